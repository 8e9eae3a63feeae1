package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/gallerypack/internal/config"
	"github.com/RecoveryAshes/gallerypack/internal/core"
	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/server"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers []string

	// 抓取参数
	targetURL string
	urlFile   string
	mode      string

	// 批量处理参数
	batchDelay      int
	continueOnError bool

	// strategies
	initStrategies bool

	// serve
	listenAddr string
	noConsole  bool
)

// 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "gallerypack",
	Short: "图集抓取打包工具",
	Long: `gallerypack - 图集抓取、批量下载与分卷打包工具

根据站点策略从图集页面提取图片地址,并发下载后用7z打包,
超过大小限制时自动分卷,最后移动到公开目录供下载:
  • 单图集模式 (single): 直接提取当前页面中的图片
  • 多图集模式 (multi): 先用无头浏览器提取图集链接,再逐个下载
  • 批量URL处理
  • HTTP服务模式,按用户提交任务并生成限时下载链接

示例:
  gallerypack fetch -u https://www.example.com/gallery/123.html
  gallerypack fetch -u https://www.example.com/list -m multi
  gallerypack fetch -f urls.txt --continue-on-error
  gallerypack serve --addr :8080

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = config

		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
			NoConsole:  noConsole,
		}
		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		} else if verbose {
			logConfig.Level = "debug"
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "抓取图集并打包",
	RunE: func(cmd *cobra.Command, args []string) error {
		if targetURL == "" && urlFile == "" {
			return cmd.Help()
		}
		parsedMode, err := ValidateFlags(targetURL, mode, batchDelay)
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		a, err := buildApp(appConfig, headers, false)
		if err != nil {
			return err
		}

		if urlFile != "" {
			return runBatch(ctx, a, parsedMode)
		}

		renderer := utils.NewProgressRenderer()
		result, err := a.pipeline.Submit(ctx, targetURL, parsedMode, renderer.Handle)
		renderer.Close()
		if err != nil {
			return fmt.Errorf("任务失败: %s", models.UserMessage(err))
		}

		utils.PrintJobSummary(os.Stdout, result)
		utils.Info("✨ 抓取任务完成!")
		return nil
	},
}

// runBatch 按文件中的顺序逐个执行任务
func runBatch(ctx context.Context, a *app, defaultMode models.Mode) error {
	entries, err := utils.ReadURLsFromFile(urlFile, defaultMode)
	if err != nil {
		return fmt.Errorf("读取URL文件失败: %w", err)
	}

	batch := make([]core.BatchEntry, 0, len(entries))
	for _, e := range entries {
		batch = append(batch, core.BatchEntry{URL: e.URL, Mode: e.Mode})
	}

	runner := core.NewBatchRunner(a.pipeline, time.Duration(batchDelay)*time.Second, continueOnError).
		WithProgress(func(core.BatchEntry) (models.ProgressFunc, func()) {
			r := utils.NewProgressRenderer()
			return r.Handle, r.Close
		})
	summary := runner.Run(ctx, batch)

	for _, res := range summary.Results {
		if res.Success {
			utils.PrintJobSummary(os.Stdout, res.Result)
		}
	}
	if summary.FailCount > 0 && summary.SuccessCount == 0 {
		return fmt.Errorf("批量任务全部失败 (%d 个)", summary.FailCount)
	}
	utils.Info("✨ 批量任务完成!")
	return nil
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "查看已支持的站点",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewStrategyLoader(appConfig.Strategies.File)
		if initStrategies {
			created, err := loader.EnsureConfigExists()
			if err != nil {
				return err
			}
			if created {
				utils.Infof("✅ 已生成策略文件模板: %s", loader.Path())
			} else {
				utils.Infof("策略文件已存在: %s", loader.Path())
			}
		}

		registry, err := core.LoadRegistry(loader.Path(), core.MatchMode(appConfig.Strategies.MatchMode), false)
		if err != nil {
			return err
		}
		domains := registry.ListSupportedDomains()
		fmt.Printf("已支持 %d 个站点:\n", len(domains))
		for _, d := range domains {
			fmt.Printf("  %s\n", d)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理过期的临时目录和发布文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := newWorkspace(appConfig)
		if err != nil {
			return err
		}
		dirs := ws.CleanupOldTempDirs()
		files := ws.CleanupExpiredPublic(appConfig.Workspace.PublicTTL)
		utils.Infof("🧹 清理完成: 临时目录 %d 个, 发布文件 %d 个", dirs, files)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "以HTTP服务方式运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := buildApp(appConfig, headers, true)
		if err != nil {
			return err
		}
		a.workspace.StartJanitor(ctx, appConfig.Workspace.CleanupInterval, appConfig.Workspace.PublicTTL)

		addr := appConfig.Server.Addr
		if listenAddr != "" {
			addr = listenAddr
		}
		srv := server.New(server.Options{
			Runner:        a.pipeline,
			Domains:       a.registry,
			Signer:        server.NewLinkSigner(appConfig.Server.LinkSecret, appConfig.Server.LinkTTL),
			PublicRoot:    a.workspace.PublicRoot(),
			PublicBaseURL: appConfig.Server.PublicBaseURL,
		})
		return srv.ListenAndServe(ctx, addr)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gallerypack %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// signalContext Ctrl+C 时取消任务,流水线会清理临时文件后退出
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")

	// 抓取参数
	fetchCmd.Flags().StringVarP(&targetURL, "url", "u", "", "图集页面URL (必需,除非使用 --url-file)")
	fetchCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	fetchCmd.Flags().StringVarP(&mode, "mode", "m", "single", "抓取模式 (single|multi)")
	fetchCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理URL间延迟(秒)")
	fetchCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	strategiesCmd.Flags().BoolVar(&initStrategies, "init", false, "策略文件不存在时生成模板")

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "监听地址,默认取配置 server.addr")
	serveCmd.Flags().BoolVar(&noConsole, "no-console", false, "关闭控制台日志,只写入日志文件")

	rootCmd.AddCommand(fetchCmd, strategiesCmd, cleanupCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

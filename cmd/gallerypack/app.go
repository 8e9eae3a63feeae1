package main

import (
	"fmt"

	"github.com/RecoveryAshes/gallerypack/internal/archive"
	"github.com/RecoveryAshes/gallerypack/internal/core"
	"github.com/RecoveryAshes/gallerypack/internal/crawlers"
	"github.com/RecoveryAshes/gallerypack/internal/downloader"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/RecoveryAshes/gallerypack/internal/workspace"
)

// app 组装好的运行时组件
type app struct {
	config    *core.Config
	registry  *core.Registry
	workspace *workspace.Manager
	pipeline  *core.Pipeline
}

// newWorkspace 只创建目录管理器, cleanup 子命令不需要其他组件
func newWorkspace(cfg *core.Config) (*workspace.Manager, error) {
	ws, err := workspace.New(workspace.Config{
		ScratchRoot: cfg.Workspace.ScratchDir,
		PublicRoot:  cfg.Workspace.PublicDir,
		Retention:   cfg.Workspace.Retention,
		MinFreeMB:   cfg.Workspace.MinFreeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化工作目录失败: %w", err)
	}
	return ws, nil
}

// buildApp 按配置创建流水线及其依赖
func buildApp(cfg *core.Config, cliHeaders []string, watchStrategies bool) (*app, error) {
	headerManager, err := core.NewHeaderManager(cfg.HTTP.Headers, cliHeaders)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	registry, err := core.LoadRegistry(cfg.Strategies.File, core.MatchMode(cfg.Strategies.MatchMode), watchStrategies || cfg.Strategies.Watch)
	if err != nil {
		return nil, fmt.Errorf("加载站点策略失败: %w", err)
	}

	ws, err := newWorkspace(cfg)
	if err != nil {
		return nil, err
	}

	builder := archive.NewBuilder(archive.Config{
		Command:          cfg.Archive.Command,
		Format:           cfg.Archive.Format,
		Level:            cfg.Archive.Level,
		CompressionRatio: cfg.Archive.CompressionRatio,
		Timeout:          cfg.Archive.Timeout,
	})
	if err := builder.CheckAvailable(); err != nil {
		return nil, err
	}

	static := crawlers.NewStaticExtractor(crawlers.StaticConfig{
		Timeout:            cfg.HTTP.Timeout,
		InsecureSkipVerify: cfg.Download.InsecureSkipVerify,
	}, headerManager)

	dynamic := crawlers.NewDynamicExtractor(crawlers.DynamicConfig{
		Headless:          cfg.Browser.Headless,
		Bin:               cfg.Browser.Bin,
		Stealth:           cfg.Browser.Stealth,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ScrollTimeout:     cfg.Browser.ScrollTimeout,
		ScrollPause:       cfg.Browser.ScrollPause,
		MinFreeMemoryMB:   cfg.Browser.MinFreeMemoryMB,
	}, headerManager)

	dl := downloader.NewDownloader(downloader.Config{
		Concurrency:        cfg.Download.Concurrency,
		Timeout:            cfg.Download.Timeout,
		MaxAttempts:        cfg.Download.MaxAttempts,
		BackoffBase:        cfg.Download.BackoffBase,
		BackoffMax:         cfg.Download.BackoffMax,
		InsecureSkipVerify: cfg.Download.InsecureSkipVerify,
	}, headerManager)

	pipeline := core.NewPipeline(core.PipelineDeps{
		Registry:   registry,
		Static:     static,
		Dynamic:    dynamic,
		Downloader: dl,
		Archiver:   builder,
		Workspace:  ws,
	}, core.PipelineOptions{
		Concurrency:   cfg.Download.Concurrency,
		MaxVolumeSize: cfg.MaxVolumeBytes(),
	})

	utils.Debugf("组件初始化完成: 临时目录 %s, 发布目录 %s", ws.ScratchRoot(), ws.PublicRoot())
	return &app{
		config:    cfg,
		registry:  registry,
		workspace: ws,
		pipeline:  pipeline,
	}, nil
}

// Package crawlers 提供图集页面的链接提取
//
// # 核心组件
//
// ## StaticExtractor
//
// 基于Colly的静态提取器,直接抓取HTML并按站点策略的选择器读取属性。速度快,
// 但看不到由JavaScript注入的内容。
//
//	extractor := NewStaticExtractor(StaticConfig{Timeout: 30 * time.Second}, headerProvider)
//	images, err := extractor.ExtractImages(ctx, "https://example.com/gallery/1", strategy)
//
// ## DynamicExtractor
//
// 基于go-rod的动态提取器,用于懒加载的列表页。每次调用启动独立的浏览器,
// 导航后反复滚动到底部直到文档高度稳定,再提取链接。浏览器在所有退出路径上都会被销毁,
// 包括panic。
//
//	extractor := NewDynamicExtractor(DynamicConfig{Headless: true, Stealth: true}, headerProvider)
//	galleries, err := extractor.ExtractGalleryLinks(ctx, "https://example.com/model/abc", strategy)
//
// 两种提取器共用同一套属性读取、地址解析、过滤和去重逻辑 (见 links.go)。
//
// ## ResourceGuard
//
// 启动浏览器前通过gopsutil检查系统可用内存。
//
// # 错误
//
// 静态提取的HTTP/网络错误返回 models.KindFetch;浏览器超时、崩溃或资源不足返回
// models.KindNavigation。选择器没有匹配时返回空列表而不是错误。
package crawlers

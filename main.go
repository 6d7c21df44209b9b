package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetch-cache/internal/cache"
	"github.com/any-hub/fetch-cache/internal/config"
	"github.com/any-hub/fetch-cache/internal/fetcher"
	"github.com/any-hub/fetch-cache/internal/logging"
	"github.com/any-hub/fetch-cache/internal/proxy"
	"github.com/any-hub/fetch-cache/internal/server"
	"github.com/any-hub/fetch-cache/internal/server/routes"
	"github.com/any-hub/fetch-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	pathURL     string
	fetchURL    string
	reload      bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_dir"] = cfg.Global.CacheDir
		fields["cache_setting"] = cfg.Global.CacheSetting
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → fetcher → Fiber server，所有入口共享同一个缓存实例。
	store, err := cache.New(cfg.Global.CacheDir)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	if opts.pathURL != "" {
		return printCachePath(store, opts.pathURL)
	}

	setting := fetcher.CacheSetting(cfg.Global.CacheSetting)
	if opts.reload {
		setting = fetcher.CacheSettingReload
	}
	httpClient := server.NewUpstreamClient(cfg)
	f := fetcher.New(store, httpClient, logger, fetcher.Options{
		Setting:      setting,
		MaxRedirects: cfg.Global.MaxRedirects,
		UserAgent:    cfg.Global.UserAgent,
	})

	if opts.fetchURL != "" {
		return fetchToStdout(f, opts.fetchURL)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = store.Location()
	fields["cache_setting"] = string(setting)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, store, proxy.NewHandler(f, logger), logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("fetch-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		pathURL    string
		fetchURL   string
		reload     bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FETCH_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&pathURL, "path", "", "输出 URL 对应的缓存文件路径后退出")
	fs.StringVar(&fetchURL, "fetch", "", "通过缓存获取 URL 并将正文写到 stdout")
	fs.BoolVar(&reload, "reload", false, "忽略缓存命中，携带 ETag 回源校验")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if pathURL != "" && fetchURL != "" {
		return cliOptions{}, errors.New("-path 与 -fetch 不能同时使用")
	}

	path := os.Getenv("FETCH_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		pathURL:     pathURL,
		fetchURL:    fetchURL,
		reload:      reload,
	}, nil
}

// printCachePath 输出正文与 headers 文件的绝对路径，不触发任何 I/O。
func printCachePath(store *cache.HTTPCache, rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		fmt.Fprintf(stdErr, "解析 URL 失败: %v\n", err)
		return 1
	}
	contentPath, err := store.CacheFilename(u)
	if err != nil {
		fmt.Fprintf(stdErr, "计算缓存路径失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdOut, contentPath)
	fmt.Fprintln(stdOut, cache.MetadataFilename(contentPath))
	return 0
}

func fetchToStdout(f *fetcher.Fetcher, rawURL string) int {
	result, err := f.Fetch(context.Background(), rawURL)
	if err != nil {
		fmt.Fprintf(stdErr, "获取失败: %v\n", err)
		return 1
	}
	if _, err := stdOut.Write(result.Body); err != nil {
		fmt.Fprintf(stdErr, "写出正文失败: %v\n", err)
		return 1
	}
	return 0
}

func startHTTPServer(cfg *config.Config, store *cache.HTTPCache, handler server.FetchHandler, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetch:      handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, store)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

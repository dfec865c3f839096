package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/haierkeys/vm-backup-service/pkg/fileurl"
	"github.com/haierkeys/vm-backup-service/pkg/util"

	"github.com/radovskyb/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	dir     string // Project root directory // 项目根目录
	port    string // Startup port // 启动端口
	runMode string // Startup mode // 启动模式
	config  string // Specified configuration file path // 指定要使用的配置文件路径
}

// configCandidates 按顺序查找的配置文件
var configCandidates = []string{
	"config/config-dev.yaml",
	"config.yaml",
	"config/config.yaml",
}

// writeDefaultConfig writes the embedded config with a random token key and admin password
// writeDefaultConfig 写入内置默认配置，并生成随机令牌密钥与管理员密码
func writeDefaultConfig(path string) (adminPassword string, err error) {
	adminPassword = util.GetRandomString(16)

	content := strings.Replace(configDefault, "vm-backup-Auth-Token", util.GetRandomString(32), 1)
	content = strings.Replace(content, "oneadmin-password", adminPassword, 1)

	if err := fileurl.CreatePath(path, os.ModePerm); err != nil {
		return "", err
	}
	if fileurl.IsExist(path) {
		return "", fmt.Errorf("config file %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", err
	}
	return adminPassword, nil
}

// watchConfig restarts the server whenever the config file is written
// watchConfig 配置文件写入后重新初始化服务
func watchConfig(runEnv *runFlags, current *atomic.Pointer[Server]) {
	w := watcher.New()

	// 每个监听周期至多接收 1 个事件
	w.SetMaxEvents(1)

	// 只通知写入事件
	w.FilterOps(watcher.Write)

	go func() {
		for {
			select {
			case event := <-w.Event:
				s := current.Load()
				s.logger.Info("config watcher change", zap.String("event", event.Op.String()), zap.String("file", event.Path))
				s.sc.SendCloseSignal(nil)
				if err := s.sc.WaitClosed(); err != nil {
					s.logger.Warn("previous server closed with error", zap.Error(err))
				}

				// 重新初始化 server
				ns, err := NewServer(runEnv)
				if err != nil {
					bootstrapLogger.Error("service restart err", zap.Error(err))
					continue
				}
				current.Store(ns)

			case err := <-w.Error:
				bootstrapLogger.Error("config watcher error", zap.Error(err))
			case <-w.Closed:
				bootstrapLogger.Info("config watcher closed")
				return
			}
		}
	}()

	if err := w.Add(runEnv.config); err != nil {
		bootstrapLogger.Error("config watcher file error", zap.Error(err))
		return
	}

	if err := w.Start(time.Second * 5); err != nil {
		bootstrapLogger.Error("config watcher start error", zap.Error(err))
	}
}

func init() {
	runEnv := new(runFlags)

	var runCommand = &cobra.Command{
		Use:   "run [-c config_file] [-d working_dir] [-p port]",
		Short: "Run the backup service daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(runEnv.dir) > 0 {
				if err := os.Chdir(runEnv.dir); err != nil {
					return fmt.Errorf("failed to change the current working directory: %w", err)
				}
				bootstrapLogger.Info("working directory changed", zap.String("dir", runEnv.dir))
			}

			if len(runEnv.config) <= 0 {
				for _, candidate := range configCandidates {
					if fileurl.IsExist(candidate) {
						runEnv.config = candidate
						break
					}
				}
			}
			if len(runEnv.config) <= 0 {
				bootstrapLogger.Warn("config file not found, creating default config")
				runEnv.config = "config/config.yaml"

				password, err := writeDefaultConfig(runEnv.config)
				if err != nil {
					return fmt.Errorf("config file auto create error: %w", err)
				}
				bootstrapLogger.Info("config file auto create successfully", zap.String("path", runEnv.config))
				bootstrapLogger.Warn("oneadmin password generated, change it after first login", zap.String("password", password))
			}

			s, err := NewServer(runEnv)
			if err != nil {
				return fmt.Errorf("service start err: %w", err)
			}

			var current atomic.Pointer[Server]
			current.Store(s)
			go watchConfig(runEnv, &current)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			s = current.Load()
			s.logger.Info("Received shutdown signal, initiating graceful shutdown...")
			s.sc.SendCloseSignal(nil)

			// 等待所有关闭处理器完成（包括 App Container 的优雅关闭）
			if err := s.sc.WaitClosed(); err != nil {
				bootstrapLogger.Error("Shutdown completed with error", zap.Error(err))
			} else {
				bootstrapLogger.Info("Service has been shut down gracefully.")
			}
			return nil
		},
	}

	rootCmd.AddCommand(runCommand)
	fs := runCommand.Flags()
	fs.StringVarP(&runEnv.dir, "dir", "d", "", "run dir")
	fs.StringVarP(&runEnv.port, "port", "p", "", "run port")
	fs.StringVarP(&runEnv.runMode, "mode", "m", "", "run mode")
	fs.StringVarP(&runEnv.config, "config", "c", "", "config file")
}

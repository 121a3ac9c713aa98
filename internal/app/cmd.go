package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/nearverify/internal/config"
)

// Command はnearverifyの起動モードを表す。
type Command string

const (
	// CommandServe は検証APIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを削除するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はセッションテーブルのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のサーバーの /health を確認する。
	// distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

func usage() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return "usage: nearverify [" + strings.Join(names, "|") + "]"
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空の場合はCommandServe。未知のコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (%s)", args[0], usage())
}

// checkConfig はコマンドの実行に必要な設定がそろっているかを確認する。
func (c Command) checkConfig(cfg *config.Config) error {
	switch c {
	case CommandWorker:
		// Redisとメモリのバックエンドはストア自身が期限切れを消す
		if cfg.SessionBackend != config.SessionBackendPostgres {
			return fmt.Errorf("worker requires SESSION_BACKEND=postgres (got %q)", cfg.SessionBackend)
		}
	case CommandMigrate:
		if cfg.DatabaseURL == "" {
			return errors.New("migrate requires DATABASE_URL")
		}
	}
	return nil
}

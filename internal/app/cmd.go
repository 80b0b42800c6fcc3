package app

import (
	"fmt"
	"strings"
)

// Command はpinshareバイナリのサブコマンド。
type Command string

const (
	CommandServe       Command = "serve"       // APIサーバー（既定）
	CommandWorker      Command = "worker"      // 期限切れセッションの定期削除
	CommandMigrate     Command = "migrate"     // スキーマのマイグレーション
	CommandHealthcheck Command = "healthcheck" // distrolessイメージのHEALTHCHECK用
	CommandPromote     Command = "promote"     // 管理者フラグを立てる
	CommandDemote      Command = "demote"      // 管理者フラグを外す
)

// commandArity はサブコマンドが要求する位置引数の数。
var commandArity = map[Command]int{
	CommandServe:       0,
	CommandWorker:      0,
	CommandMigrate:     0,
	CommandHealthcheck: 0,
	CommandPromote:     1,
	CommandDemote:      1,
}

// Invocation は解析済みのコマンドライン。
type Invocation struct {
	Command Command
	Args    []string
}

// ParseCommand はos.Args[1:]を解析する。引数なしはserveとして扱う。
// 未知のサブコマンドや位置引数の不足はエラーにする。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	cmd := Command(args[0])
	arity, ok := commandArity[cmd]
	if !ok {
		return Invocation{}, fmt.Errorf("unknown command %q (want one of: %s)", args[0], commandNames())
	}
	rest := args[1:]
	if len(rest) < arity {
		return Invocation{}, fmt.Errorf("usage: pinshare %s <username>", cmd)
	}
	return Invocation{Command: cmd, Args: rest}, nil
}

func commandNames() string {
	names := []string{
		string(CommandServe), string(CommandWorker), string(CommandMigrate),
		string(CommandHealthcheck), string(CommandPromote), string(CommandDemote),
	}
	return strings.Join(names, ", ")
}

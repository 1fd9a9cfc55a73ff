package app

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// defaultPort はSERVER_PORTが未設定の場合のポート。
const defaultPort = "8080"

// NewRootCommand はアプリケーションのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, w)
	}

	root := &cobra.Command{
		Use:           "postboard",
		Short:         "ユーザープロフィールと投稿を表示するWebフロントエンド",
		Args:          cobra.NoArgs,
		RunE:          serve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Webサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		newHealthcheckCommand(),
	)

	return root
}

func newHealthcheckCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "起動中のサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		// healthcheck は軽量サブコマンドのため、設定の読み込みをスキップする
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}

	cmd.Flags().StringVar(&port, "port", envOr("SERVER_PORT", defaultPort), "ヘルスチェック対象のポート")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

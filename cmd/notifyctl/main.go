// notifyctl はnotifyhubのHTTP APIをコマンドラインから呼び出すツール。
//
//	notifyctl [-url URL] [-token JWT] notify -app APP -users u1,u2 -data '{"k":"v"}'
//	notifyctl batch -file requests.json
//	notifyctl stats -app APP
//	notifyctl health
//	notifyctl token -secret SECRET -service billing
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nao1215/notifyhub/pkg/httpclient"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// errUsage はコマンドライン引数が不正であることを表す。
var errUsage = errors.New("引数が不正です")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run はコマンドを実行して終了コードを返す。
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("notifyctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	baseURL := global.String("url", envOr("NOTIFYHUB_URL", "http://localhost:8080"), "notifyhubのベースURL")
	token := global.String("token", os.Getenv("NOTIFYHUB_TOKEN"), "Bearerトークン")
	timeout := global.Duration("timeout", 10*time.Second, "リクエストのタイムアウト")
	global.Usage = func() {
		fmt.Fprintln(stderr, "usage: notifyctl [flags] <notify|batch|stats|health|token> [args]")
		global.PrintDefaults()
	}
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	client := httpclient.New(*baseURL, httpclient.WithToken(*token), httpclient.WithTimeout(*timeout))
	cmd, rest := global.Arg(0), global.Args()[1:]

	var err error
	switch cmd {
	case "notify":
		err = runNotify(ctx, client, rest, stdout, stderr)
	case "batch":
		err = runBatch(ctx, client, rest, stdin, stdout, stderr)
	case "stats":
		err = runStats(ctx, client, rest, stdout, stderr)
	case "health":
		err = client.Health(ctx)
		if err == nil {
			fmt.Fprintln(stdout, "ok")
		}
	case "token":
		err = runToken(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "不明なコマンドです: %s\n", cmd)
		global.Usage()
		return 2
	}

	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "エラー: %v\n", err)
		return 1
	}
	return 0
}

func runNotify(ctx context.Context, client *httpclient.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	app := fs.String("app", "", "アプリケーションID（必須）")
	users := fs.String("users", "", "配信先のクライアントID（カンマ区切り）")
	devices := fs.String("devices", "", "配信先のデバイスID（カンマ区切り）")
	topics := fs.String("topics", "", "配信先のトピック（カンマ区切り）")
	eventName := fs.String("event", "", "イベント名（既定: dataUpdate）")
	data := fs.String("data", "", "ペイロード（JSONオブジェクト）")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *app == "" {
		fmt.Fprintln(stderr, "-app は必須です")
		return errUsage
	}

	req := httpclient.NotifyRequest{
		AppID:       *app,
		Users:       splitList(*users),
		Devices:     splitList(*devices),
		EventTopics: splitList(*topics),
		EventName:   *eventName,
	}
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &req.Data); err != nil {
			return fmt.Errorf("-data はJSONオブジェクトである必要があります: %w", err)
		}
	}

	resp, err := client.Notify(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(stdout, resp)
}

func runBatch(ctx context.Context, client *httpclient.Client, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "-", "通知リクエストのJSON配列ファイル（- は標準入力）")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	r := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return fmt.Errorf("ファイルのオープンに失敗: %w", err)
		}
		defer f.Close()
		r = f
	}

	var reqs []httpclient.NotifyRequest
	if err := json.NewDecoder(r).Decode(&reqs); err != nil {
		return fmt.Errorf("通知リクエストのパースに失敗: %w", err)
	}

	resp, err := client.BatchNotify(ctx, reqs)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, resp); err != nil {
		return err
	}
	if resp.Failed > 0 {
		return fmt.Errorf("%d/%d 件の通知が失敗しました", resp.Failed, resp.Total)
	}
	return nil
}

func runStats(ctx context.Context, client *httpclient.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	app := fs.String("app", "", "アプリケーションID（必須）")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *app == "" {
		fmt.Fprintln(stderr, "-app は必須です")
		return errUsage
	}

	stats, err := client.Stats(ctx, *app)
	if err != nil {
		return err
	}
	return writeJSON(stdout, stats)
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	secret := fs.String("secret", os.Getenv("NOTIFY_JWT_SECRET"), "署名に使うシークレット")
	service := fs.String("service", "", "呼び出し元サービス名（必須）")
	ttl := fs.Duration("ttl", 24*time.Hour, "有効期間")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *secret == "" || *service == "" {
		fmt.Fprintln(stderr, "-secret と -service は必須です")
		return errUsage
	}

	tok, err := middleware.GenerateJWT(*secret, *service, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

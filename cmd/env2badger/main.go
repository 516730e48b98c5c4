package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/betbot/orderbridge/pkg/secretstore"
)

// .env 变量名 -> badger key
var credentialEnv = map[string]string{
	"BYBIT_API_KEY":    secretstore.KeyBybitAPIKey,
	"BYBIT_API_SECRET": secretstore.KeyBybitAPISecret,
	"MT5_PASSWORD":     secretstore.KeyMT5Password,
	"MT5_API_TOKEN":    secretstore.KeyMT5APIToken,
}

func main() {
	var (
		inPath    = flag.String("in", ".env", "input .env file path")
		dbPath    = flag.String("badger", getenv("BRIDGE_SECRET_DB", "data/secrets.badger"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("BRIDGE_SECRET_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		all       = flag.Bool("all", false, "import every variable, not only venue credentials")
		prefix    = flag.String("prefix", "env/", "key prefix for variables imported by -all")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set BRIDGE_SECRET_KEY or pass -secret-key"))
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}
	entries := selectEntries(kv, *all, *prefix)
	if len(entries) == 0 {
		fatal(fmt.Errorf("%s 中没有可导入的凭证变量", *inPath))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := ss.SetString(k, entries[k]); err != nil {
			fatal(err)
		}
	}

	fmt.Fprintf(os.Stderr, "已导入 %d 项到 badger：%s\n", len(keys), *dbPath)
	imported := make(map[string]bool, len(keys))
	for _, k := range keys {
		imported[strings.ToLower(k)] = true
	}
	stored, err := ss.Keys("")
	if err != nil {
		fatal(err)
	}
	for _, k := range stored {
		mark := " "
		if imported[k] {
			mark = "+"
		}
		fmt.Fprintf(os.Stderr, " %s %s\n", mark, k)
	}
}

// selectEntries 凭证变量映射为小写 key；-all 时其余变量加前缀原样写入
func selectEntries(kv map[string]string, all bool, prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range kv {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if key, ok := credentialEnv[strings.ToUpper(k)]; ok {
			out[key] = v
			continue
		}
		if all {
			out[prefix+k] = v
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

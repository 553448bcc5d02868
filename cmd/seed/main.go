// File: cmd/seed/main.go
//
// Operational helper: bootstraps the schema, imports activation keys from a
// file (one code per line), and optionally generates demo codes for dev
// environments.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"gpt-subscription-orchestrator/internal/config"
	pg "gpt-subscription-orchestrator/internal/infra/db/postgres"
	"gpt-subscription-orchestrator/internal/infra/logging"
	"gpt-subscription-orchestrator/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	keysFile := flag.String("keys", "", "file with one activation code per line")
	generate := flag.Int("generate", 0, "generate N random demo codes instead of importing")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if err := pg.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	var codes []string
	switch {
	case *generate > 0:
		for i := 0; i < *generate; i++ {
			code, err := generateCode()
			if err != nil {
				log.Fatalf("generate code: %v", err)
			}
			codes = append(codes, code)
		}
	case *keysFile != "":
		codes, err = readCodes(*keysFile)
		if err != nil {
			log.Fatalf("read %s: %v", *keysFile, err)
		}
	default:
		fmt.Println("Nothing to do: pass -keys <file> or -generate <n>.")
		return
	}

	keyPool := usecase.NewKeyPoolUseCase(pg.NewKeyRepo(pool), 0, logger)
	added, skipped, err := keyPool.ImportCodes(ctx, codes, time.Now())
	if err != nil {
		log.Fatalf("import codes: %v", err)
	}
	fmt.Printf("Imported %d codes (%d skipped as duplicates).\n", added, skipped)
}

func readCodes(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}

// generateCode creates a random human-readable code, XXXX-XXXX-XXXX, from a
// character set that avoids ambiguous glyphs like O/0 and I/1.
func generateCode() (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = chars[int(buf[i])%len(chars)]
	}
	return string(buf[0:4]) + "-" + string(buf[4:8]) + "-" + string(buf[8:12]), nil
}

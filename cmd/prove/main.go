// prove runs one notarized session against a manifest and writes the proof
// artifact to disk.
//
//	prove -manifest artist.json -mode tlsn -notary ws://localhost:8080/notarize \
//	      -var userId=alice -out artist.proof.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"webnotary/manifest"
	"webnotary/session"
	"webnotary/shared"
)

type varFlags map[string]string

func (v varFlags) String() string { return fmt.Sprintf("%v", map[string]string(v)) }

func (v varFlags) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[key] = value
	return nil
}

func main() {
	shared.LoadEnvFile()

	manifestPath := flag.String("manifest", "", "path to the manifest JSON")
	mode := flag.String("mode", "tlsn", "proof mode: tlsn or origo")
	notaryURL := flag.String("notary", shared.GetEnvOrDefault("NOTARY_URL", "ws://localhost:8080/notarize"), "notary websocket URL")
	target := flag.String("target", "", "host:port override for the origin connection")
	out := flag.String("out", "proof.json", "output path for the proof artifact")
	values := varFlags{}
	flag.Var(values, "var", "template variable as key=value (repeatable)")
	flag.Parse()

	log, err := shared.NewLoggerFromEnv("prover")
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	if *manifestPath == "" {
		log.Fatal("missing -manifest")
	}
	doc, err := os.ReadFile(*manifestPath)
	if err != nil {
		log.Fatal("failed to read manifest", zap.Error(err))
	}
	man, err := manifest.ParseJSON(doc)
	if err != nil {
		log.Fatal("manifest rejected", zap.Error(err))
	}

	m, err := session.New(session.Config{
		NotaryURL:  *notaryURL,
		Mode:       *mode,
		TargetAddr: *target,
		Logger:     log,
	})
	if err != nil {
		log.Fatal("failed to build session", zap.Error(err))
	}

	p, err := m.Run(context.Background(), man, values)
	if err != nil {
		log.Fatal("session failed", zap.Error(err), zap.String("state", m.State().String()))
	}

	raw, err := p.Encode()
	if err != nil {
		log.Fatal("failed to encode artifact", zap.Error(err))
	}
	if err := os.WriteFile(*out, raw, 0o600); err != nil {
		log.Fatal("failed to write artifact", zap.Error(err))
	}
	log.Info("proof written",
		zap.String("path", *out),
		zap.String("session_id", p.Header.SessionID),
		zap.String("notary", p.NotaryAddress))
}

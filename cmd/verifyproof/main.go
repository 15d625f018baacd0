// verifyproof checks a proof artifact offline against a manifest and a
// pinned notary address, printing the verified claims.
//
//	verifyproof -proof artist.proof.json -manifest artist.json \
//	            -notary 0xabc... [-roots ca.pem]
package main

import (
	"crypto/x509"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"webnotary/manifest"
	"webnotary/proof"
	"webnotary/verify"
)

func main() {
	proofPath := flag.String("proof", "", "path to the proof artifact")
	manifestPath := flag.String("manifest", "", "path to the manifest JSON")
	notaryAddr := flag.String("notary", "", "pinned notary address (0x...)")
	rootsPath := flag.String("roots", "", "PEM bundle of trusted roots (default: system pool)")
	flag.Parse()

	if *proofPath == "" || *manifestPath == "" || *notaryAddr == "" {
		fmt.Fprintln(os.Stderr, "usage: verifyproof -proof FILE -manifest FILE -notary ADDR [-roots FILE]")
		os.Exit(2)
	}

	rawProof, err := os.ReadFile(*proofPath)
	if err != nil {
		fatal("failed to read proof: %v", err)
	}
	p, err := proof.Decode(rawProof)
	if err != nil {
		fatal("failed to decode proof: %v", err)
	}

	doc, err := os.ReadFile(*manifestPath)
	if err != nil {
		fatal("failed to read manifest: %v", err)
	}
	man, err := manifest.ParseJSON(doc)
	if err != nil {
		fatal("manifest rejected: %v", err)
	}

	opts := verify.Options{}
	if *rootsPath != "" {
		pem, err := os.ReadFile(*rootsPath)
		if err != nil {
			fatal("failed to read roots: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			fatal("no usable certificates in %s", *rootsPath)
		}
		opts.Roots = pool
	}

	claims, err := verify.Verify(p, common.HexToAddress(*notaryAddr), man, opts)
	if err != nil {
		fatal("%v", err)
	}

	out, _ := json.MarshalIndent(claims, "", "  ")
	fmt.Println(string(out))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// Command convert-hash maps a captured process alias (the value recorded
// by TagAlias / event.NewApp, e.g. "mainnet-node-7") to the PNet network id
// it selects and that network's derived XSalsa20 key (§6), so an operator
// can confirm which shared secret a given alias will be decrypted with
// without instrumenting the recorder itself.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/ocx/mina-debugger/internal/pnet"
)

func main() {
	alias := flag.String("alias", "", "captured process alias, e.g. mainnet-node-7")
	flag.Parse()
	if *alias == "" {
		fmt.Fprintln(os.Stderr, "usage: convert-hash -alias <alias>")
		os.Exit(2)
	}

	id := pnet.NetworkIDFromAlias(*alias)
	key, err := pnet.SharedSecret(id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "convert-hash:", err)
		os.Exit(1)
	}

	fmt.Printf("alias:      %s\n", *alias)
	fmt.Printf("network id: %s\n", id)
	fmt.Printf("key:        %s\n", hex.EncodeToString(key[:]))
}

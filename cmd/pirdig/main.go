// Command pirdig is a dig-alike demonstrating the pirtls DNS resolver: it
// resolves one name against one upstream resolver, trying DoT then DoH
// binary then DoH JSON, and prints whatever answers come back.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/miekg/dns"

	pirdns "github.com/yourusername/pirtls/pkg/pir/dns"
)

func main() {
	resolverHost := flag.String("resolver", "dns.google", "DoT/DoH resolver hostname")
	qtype := flag.String("type", "A", "record type to query")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Println("usage: pirdig [-resolver host] [-type A|AAAA|...] <name>")
		os.Exit(2)
	}
	name := flag.Arg(0)

	qt, ok := dns.StringToType[*qtype]
	if !ok {
		log.Fatalf("pirdig: unknown record type %q", *qtype)
	}

	r := pirdns.NewResolver(*resolverHost)
	answers, err := r.Resolve(context.Background(), name, qt)
	if err != nil {
		log.Fatalf("pirdig: resolve %s failed: %v", name, err)
	}

	if len(answers) == 0 {
		log.Printf("pirdig: no answers for %s", name)
		return
	}
	for _, rr := range answers {
		log.Println(rr.String())
	}
}

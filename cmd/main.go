package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	hammer "github.com/hammerlang/hammer"
)

func main() {
	var (
		sourcePath = flag.String("source", "", "Path to a Hammer source file to run")
		stressGC   = flag.Bool("stress-gc", false, "Run the collector on every allocation")
		oneIndexed = flag.Bool("one-indexed", true, "Use 1-based list/string indexing")
	)
	flag.Parse()

	if *sourcePath == "" {
		log.Fatal("Source file not informed")
	}

	cfg := hammer.NewConfig()
	cfg.SetBool("vm.stress_gc", *stressGC)
	cfg.SetBool("vm.one_indexed", *oneIndexed)

	result, err := hammer.RunFile(*sourcePath, cfg)
	if err != nil {
		log.Fatalf("%s", err.Error())
	}
	if !result.IsUnit() {
		fmt.Println(result.String())
	}
	os.Exit(0)
}

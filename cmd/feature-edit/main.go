// Command feature-edit announces an upstream edit so running servers purge
// cached pages and reload counts for the layer.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	refreshkafka "github.com/mohammed-shakir/featuregrid/pkg/refresh/kafka"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := refreshkafka.FromEnv()

	layer := flag.String("layer", "", "layer URL, e.g. .../MapServer/3")
	version := flag.Uint64("version", 0, "edit version; 0 always applies")
	op := flag.String("op", "update", "edit operation")
	brokers := flag.String("brokers", strings.Join(cfg.Brokers, ","), "comma separated kafka brokers")
	topic := flag.String("topic", cfg.Topic, "refresh topic")
	flag.Parse()

	if strings.TrimSpace(*layer) == "" {
		fmt.Fprintln(os.Stderr, "feature-edit: -layer is required")
		flag.Usage()
		return 2
	}

	var bs []string
	for b := range strings.SplitSeq(*brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			bs = append(bs, b)
		}
	}

	pub, err := refreshkafka.NewPublisher(bs, *topic)
	if err != nil {
		fmt.Fprintln(os.Stderr, "feature-edit:", err)
		return 1
	}
	defer func() { _ = pub.Close() }()

	part, off, err := pub.Publish(refreshkafka.WireEvent{Layer: *layer, Version: *version, Op: *op})
	if err != nil {
		fmt.Fprintln(os.Stderr, "feature-edit:", err)
		return 1
	}
	fmt.Printf("published edit for %s to %s (partition %d, offset %d)\n", *layer, *topic, part, off)
	return 0
}

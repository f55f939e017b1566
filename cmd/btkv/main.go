//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"github.com/weaviate/btkv/backfill"
	"github.com/weaviate/btkv/btree"
	"github.com/weaviate/btkv/bufcache"
)

type Options struct {
	Target  string `long:"target" description:"what to run" choice:"gen" choice:"backfill" default:"backfill"`
	File    string `long:"file" description:"tree page file" required:"true"`
	Since   uint64 `long:"since" description:"backfill horizon, emit subtrees modified at or after this timestamp" default:"0"`
	Items   int    `long:"items" description:"items to generate with --target gen" default:"10000"`
	Cap     int    `long:"admission-cap" description:"max blocks held or in flight" default:"50000"`
	Verbose bool   `long:"verbose" short:"v" description:"debug logging"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	log := logrus.New()
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	var err error
	switch opts.Target {
	case "gen":
		err = gen(log, opts)
	case "backfill":
		err = run(log, opts)
	}

	if err != nil {
		log.WithError(err).Fatal(opts.Target)
	}
}

func gen(log *logrus.Logger, opts Options) error {
	builder, err := btree.NewBuilder(log)
	if err != nil {
		return err
	}

	items := make([]btree.Item, opts.Items)
	for i := range items {
		items[i] = btree.Item{
			Key:       []byte(fmt.Sprintf("key-%08d", i)),
			Value:     []byte(fmt.Sprintf("value-%08d", i)),
			Timestamp: uint64(i + 1),
		}
	}

	if err := builder.Build(opts.File, items); err != nil {
		return err
	}

	log.WithField("items", opts.Items).Infof("wrote %s", opts.File)
	return nil
}

func run(log *logrus.Logger, opts Options) error {
	cache, err := bufcache.Open(opts.File, log)
	if err != nil {
		return err
	}
	defer cache.Close()

	session, err := backfill.New(cache, opts.Since, &printingCallback{},
		backfill.WithLogger(log), backfill.WithAdmissionCap(opts.Cap))
	if err != nil {
		return err
	}

	log.WithField("session_id", session.ID()).Debug("starting backfill")
	return session.Run(context.Background())
}

// printingCallback dumps emissions to stdout. Sibling subtrees emit
// concurrently, the mutex keeps lines intact.
type printingCallback struct {
	mu    sync.Mutex
	pairs int
}

func (c *printingCallback) OnPair(key, value []byte, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs++
	fmt.Printf("%s\t%d\t%s\n", key, timestamp, value)
}

func (c *printingCallback) OnLargeValueChunk(key, chunk []byte, chunkIndex, totalChunks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("%s\t(chunk %d/%d, %d bytes)\n", key, chunkIndex+1, totalChunks, len(chunk))
}

func (c *printingCallback) OnDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Printf("done, %d pairs\n", c.pairs)
}

func (c *printingCallback) OnError(err error) {
	fmt.Fprintf(os.Stderr, "backfill failed: %s\n", err)
}

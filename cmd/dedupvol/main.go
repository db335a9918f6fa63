// cmd/dedupvol/main.go
// Copyright(c) 2017 Matt Pharr
// BSD licensed; see LICENSE for details.

// dedupvol creates and inspects deduplicating-format backup volumes, and
// can drive a virtual backup consolidation against a catalog and a
// storage worker.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmp/dedupvol/catalog"
	"github.com/mmp/dedupvol/consolidate"
	u "github.com/mmp/dedupvol/util"
	"github.com/mmp/dedupvol/volume"
)

func usage() {
	fmt.Println("usage: dedupvol create [--blocksize n] <path>")
	fmt.Println("usage: dedupvol inspect <path>")
	fmt.Println("usage: dedupvol consolidate --catalog <dsn> --job <jobid> --worker <addr> --jobids <id,id,...>")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	log := u.NewLogger(true /*verbose*/, false /*debug*/)

	switch os.Args[1] {
	case "create":
		create(os.Args[2:], log)
	case "inspect":
		inspect(os.Args[2:], log)
	case "consolidate":
		runConsolidate(os.Args[2:], log)
	default:
		usage()
	}
}

func create(args []string, log *u.Logger) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	blockSize := fs.Uint("blocksize", 0, "blocksize in bytes; 0 uses the default")
	perm := fs.Uint("perm", uint(volume.DefaultPermissions), "unix file permissions for the volume's files")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
	}
	v, err := volume.Open(fs.Arg(0), volume.CreateReadWrite, os.FileMode(*perm), uint32(*blockSize))
	log.CheckError(err)
	v.Close()
}

func inspect(args []string, log *u.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	verify := fs.Bool("verify", false, "recompute and print a digest for every block")
	fs.Parse(args)

	if fs.NArg() != 1 {
		usage()
	}
	v, err := volume.Open(fs.Arg(0), volume.OpenReadOnly, 0, 0)
	log.CheckError(err)
	defer v.Close()

	fmt.Printf("%s: blocksize=%d blocks=%d\n", v.Name(), v.BlockSize(), v.Size())

	if *verify {
		digests, err := v.Verify()
		log.CheckError(err)
		for i, d := range digests {
			fmt.Printf("block %d: %s\n", i, d)
		}
	}
}

func runConsolidate(args []string, log *u.Logger) {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	dsn := fs.String("catalog", "", "catalog data source name")
	jobId := fs.Int64("job", 0, "synthetic JobId to finalize")
	worker := fs.String("worker", "", "storage worker address")
	jobidsFlag := fs.String("jobids", "", "comma-separated JobId chain to consolidate")
	readStorage := fs.String("read-storage", "", "comma-separated read storage list")
	writeStorage := fs.String("write-storage", "", "comma-separated write storage list")
	accurate := fs.Bool("accurate", true, "whether the client's accurate mode was enabled")
	sendBSR := fs.Bool("send-bsr", true, "send the bootstrap to the storage worker")
	bsrPath := fs.String("bootstrap", "", "path to write the bootstrap file to; empty skips writing one to disk")
	fs.Parse(args)

	if *dsn == "" || *jobId == 0 || *worker == "" {
		usage()
	}

	cat, err := catalog.Open(*dsn)
	log.CheckError(err)
	defer cat.Close()

	ctx := context.Background()
	job, err := cat.GetJobRecord(ctx, *jobId)
	log.CheckError(err)

	jobids := parseInt64List(*jobidsFlag)

	result, err := consolidate.Run(ctx, cat, job, consolidate.RunParams{
		JobIds:            jobids,
		Accurate:          *accurate,
		ReadStorage:       splitNonEmpty(*readStorage),
		WriteStorage:      splitNonEmpty(*writeStorage),
		SendBSR:           *sendBSR,
		StorageWorkerAddr: *worker,
		ConnectTimeout:    30 * time.Second,
		PollInterval:      time.Second,
		BootstrapPath:     *bsrPath,
	}, log)
	if err != nil {
		log.Fatal("consolidation of JobId %d failed: %v", *jobId, err)
	}

	final, err := consolidate.Cleanup(ctx, cat, job, result, consolidate.CleanupParams{}, log)
	log.CheckError(err)

	fmt.Println(consolidate.Summary(final))
}

func parseInt64List(s string) []int64 {
	var out []int64
	for _, p := range splitNonEmpty(s) {
		n, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

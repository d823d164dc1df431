package main

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/loadtrace/pace"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

func main() {
	app := cli.NewApp()
	app.Name = "pacereplay"
	app.Usage = "replay a timestamp file with concurrent workers"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "file, f",
			Usage: "timestamp file to replay",
		},
		cli.StringFlag{
			Name:  "delimiter, d",
			Value: pace.DefaultDelimiter,
			Usage: "entry delimiter",
		},
		cli.IntFlag{
			Name:  "workers, w",
			Value: 1,
			Usage: "number of concurrent workers",
		},
		cli.BoolFlag{
			Name:  "full",
			Usage: "every worker replays the full sequence instead of sharing it",
		},
	}
	app.Action = replay
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func replay(ctx *cli.Context) error {
	file := ctx.String("file")
	if file == "" {
		return cli.NewExitError("missing --file", 1)
	}
	workers := ctx.Int("workers")
	if workers < 1 {
		workers = 1
	}
	mode := pace.ModeShared
	if ctx.Bool("full") {
		mode = pace.ModePerWorkerFull
	}

	s := pace.New(mode, pace.WithDelimiter(ctx.String("delimiter")))
	if err := s.SetFilename(file); err != nil {
		return err
	}
	if s.Len() == 0 {
		return cli.NewExitError("no timestamps loaded from "+file, 1)
	}

	total := int64(s.Len())
	if mode == pace.ModePerWorkerFull {
		total *= int64(workers)
	}

	p := mpb.New(mpb.WithWidth(64))
	bar := p.New(total,
		mpb.BarStyle(),
		mpb.PrependDecorators(
			decor.Name("firing ", decor.WC{C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)

	s.StartRun()
	defer s.EndRun()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := s.NewWorker(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				d := w.NextDelay()
				if w.Exhausted() {
					return
				}
				time.Sleep(d)
				bar.Increment()
			}
		}()
	}
	wg.Wait()
	p.Wait()

	start, _ := s.StartedAt()
	fmt.Printf("replayed %d timestamps in %s\n",
		total, time.Since(start).Round(time.Millisecond))
	return nil
}

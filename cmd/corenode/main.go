// Command corenode is a thin CLI wrapper around the storage engine
// package, in the flag/command style of go-ethereum's own cmd/geth.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"github.com/ethcorego/execution-core/store"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the storage engine",
		Value: "corenode-data",
	}
	cacheFlag = cli.IntFlag{
		Name:  "cache",
		Usage: "Megabytes of memory allocated to the header/body read cache",
		Value: 256,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "corenode"
	app.Usage = "execution-core storage, payload-building, and peer discovery engine"
	app.Commands = []cli.Command{initCommand, statusCommand}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var initCommand = cli.Command{
	Name:   "init",
	Usage:  "Create and open the storage engine at --datadir, verifying it is reachable",
	Action: runInit,
	Flags:  []cli.Flag{dataDirFlag, cacheFlag},
}

var statusCommand = cli.Command{
	Name:   "status",
	Usage:  "Report the chain head recorded in the storage engine at --datadir",
	Action: runStatus,
	Flags:  []cli.Flag{dataDirFlag, cacheFlag},
}

func runInit(ctx *cli.Context) error {
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()
	log.Info("Storage engine opened", "datadir", ctx.String(dataDirFlag.Name))
	return nil
}

func runStatus(ctx *cli.Context) error {
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	return engine.View(func(tx store.ReadTx) error {
		latest, err := tx.LatestBlock()
		if err != nil {
			return err
		}
		log.Info("Chain head", "number", latest)
		return nil
	})
}

func openEngine(ctx *cli.Context) (*store.Engine, error) {
	return store.Open(store.Config{
		Path:           ctx.String(dataDirFlag.Name),
		CacheSizeBytes: ctx.Int(cacheFlag.Name) * 1024 * 1024,
		Logger:         log.Root(),
	})
}

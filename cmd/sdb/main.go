// Command sdb is the source-level debugger server: it speaks the VM
// adapter wire protocol on one websocket endpoint and the client facade
// wire protocol on another, pairing one of each into a debug session
// backed by a fresh engine.Engine.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/SeesePlusPlus/velma/compiler"
	"github.com/SeesePlusPlus/velma/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
)

var (
	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Value: ":4040",
		Usage: "listen address for the /vm and /ui websocket endpoints",
	}
	solcFlag = &cli.StringFlag{
		Name:  "solc",
		Value: "solc",
		Usage: "path to (or name of, if on $PATH) the solc binary used to recompile evaluated expressions",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Value: int(log.LvlInfo),
		Usage: "log verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
	}
)

func main() {
	app := &cli.App{
		Name:  "sdb",
		Usage: "source-level debugger server for EVM bytecode",
		Flags: []cli.Flag{addrFlag, solcFlag, verbosityFlag},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log.SetDefaultHandler(log.LvlFilterHandler(log.Lvl(c.Int(verbosityFlag.Name)), log.StreamHandler(os.Stderr)))
	logger := log.New("component", "sdb")

	solidity, err := compiler.New(c.String(solcFlag.Name))
	if err != nil {
		return fmt.Errorf("sdb: %w", err)
	}
	logger.Info("resolved solc", "version", solidity.Version())

	srv := newServer(solidity, logger)
	go srv.pairLoop()

	router := mux.NewRouter()
	router.HandleFunc("/vm", srv.handleVM)
	router.HandleFunc("/ui", srv.handleUI)

	addr := c.String(addrFlag.Name)
	logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, router)
}

// upgrader is shared by both endpoints. CheckOrigin always allows: sdb is
// a local development tool expected to be driven by IDE plugins and
// scripts, not browser pages subject to cross-origin risk, the same
// posture algorand-go-algorand's tealdbg server takes for its own
// debugger websocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

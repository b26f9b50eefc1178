// Package console implements the interactive provisioning console: menus for
// instance management, offer search, template management and the
// provisioning wizard.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MannyJMusic/dfl-desktop/config"
	"github.com/MannyJMusic/dfl-desktop/logger"
	"github.com/MannyJMusic/dfl-desktop/vast"
)

// Console is the interactive application. Input and output are injected so
// tests can drive the menus with scripted input.
type Console struct {
	client   *vast.Client
	resolver *vast.Resolver
	cfg      *config.Config
	in       *bufio.Reader
	out      io.Writer
	log      *slog.Logger

	running bool
	// eof is set once input is exhausted, so prompts stop re-asking.
	eof bool
	// lastOffers holds the most recent offer search so the wizard can
	// reuse it without re-querying.
	lastOffers []vast.Record
	// lastVolumeOffers caches volume asks per machine id.
	lastVolumeOffers map[string][]vast.Record
}

// New creates a console bound to the given client and resolver.
func New(client *vast.Client, resolver *vast.Resolver, cfg *config.Config, in io.Reader, out io.Writer) *Console {
	return &Console{
		client:           client,
		resolver:         resolver,
		cfg:              cfg,
		in:               bufio.NewReader(in),
		out:              out,
		log:              logger.WithComponent("console"),
		lastVolumeOffers: make(map[string][]vast.Record),
	}
}

// Run starts the interactive loop. It returns when the user exits or the
// context is cancelled.
func (c *Console) Run(ctx context.Context) error {
	c.running = true
	for c.running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.printHeader()
		choice := c.promptMenu("Select an option", []menuItem{
			{"1", "Instance management"},
			{"2", "Offer search"},
			{"3", "Template management"},
			{"4", "DeepFaceLab provisioning wizard"},
			{"5", "Exit"},
		})
		switch choice {
		case "1":
			c.handleInstances(ctx)
		case "2":
			c.handleOffers(ctx)
		case "3":
			c.handleTemplates(ctx)
		case "4":
			c.handleProvision(ctx)
		case "5", "":
			c.handleExit()
		}
	}
	return nil
}

func (c *Console) printHeader() {
	fmt.Fprintln(c.out, "==========================================")
	fmt.Fprintln(c.out, " Vast.ai DeepFaceLab Provisioning Console")
	fmt.Fprintln(c.out, "==========================================")
}

func (c *Console) handleExit() {
	fmt.Fprintln(c.out, "Goodbye!")
	c.running = false
}

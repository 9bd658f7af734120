// Package cli implements the operator console: live status tables for
// clients, games and the compatibility table, plus kick, teleport and report commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/db"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/version"
)

// Deps are the components the console reads and drives. Teleporter,
// Reports and Shutdown may be nil.
type Deps struct {
	Clients interface {
		All() []*client.Client
		Count() int
	}
	Games interface {
		Infos() []game.Info
		Count() int
	}
	Peers interface{ Count() int }
	Compat interface {
		Snapshot() []compat.Snapshot
		SupportedRange() string
	}
	Kicker interface {
		Kick(ctx context.Context, id int32, by string) error
	}
	Teleporter interface {
		Teleport(ctx context.Context, id int32, pos protocol.Vector2, by string) error
	}
	Reports interface {
		ListReports(ctx context.Context, f db.ReportFilter) ([]db.Report, error)
	}
	Events events.Emitter
	// Shutdown stops the server after quit.
	Shutdown func()
}

// CLI is the interactive console.
type CLI struct {
	deps   Deps
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

// NewCLI creates a console reading commands from in and printing to out.
func NewCLI(deps Deps, in io.Reader, out io.Writer, logger zerolog.Logger) *CLI {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &CLI{deps: deps, in: in, out: out, logger: logger}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nAirlock console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "airlock> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			quit, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if quit {
				return
			}
		}
	}
}

// execute runs one command and reports whether the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "clients", "c":
		c.printClients()
	case "games", "g":
		c.printGames()
	case "versions", "v":
		c.printVersions()
	case "kick", "k":
		return false, c.cmdKick(ctx, args)
	case "teleport", "tp":
		return false, c.cmdTeleport(ctx, args)
	case "reports", "r":
		return false, c.cmdReports(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Airlock...")
		c.deps.Events.Emit(ctx, events.Event{Type: events.EventShutdown, Source: "cli"})
		if c.deps.Shutdown != nil {
			c.deps.Shutdown()
		}
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status            Show relay totals
  clients           List connected clients
  games             List open games
  versions          Show the compatibility table
  kick <id>         Disconnect a client
  teleport <id> <x> <y>
                    Move a client's player
  reports [n]       Show the latest n cheat reports (default 20)
  quit              Shut down Airlock
  help              Show this help message`)
}

func (c *CLI) printStatus() {
	fmt.Fprintf(c.out, "\n  Version:          %s\n", version.AppVersion)
	fmt.Fprintf(c.out, "  Clients:          %d\n", c.deps.Clients.Count())
	if c.deps.Peers != nil {
		fmt.Fprintf(c.out, "  Peers:            %d\n", c.deps.Peers.Count())
	}
	fmt.Fprintf(c.out, "  Games:            %d\n", c.deps.Games.Count())
	fmt.Fprintf(c.out, "  Supported range:  %s\n\n", c.deps.Compat.SupportedRange())
}

func (c *CLI) printClients() {
	var infos []client.Info
	for _, cl := range c.deps.Clients.All() {
		infos = append(infos, cl.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	tw := c.table("ID", "Name", "Version", "Platform", "Game", "Host", "Modded", "Connected")
	for _, info := range infos {
		tw.Append([]string{
			strconv.Itoa(int(info.ID)),
			info.Name,
			info.Version,
			info.Platform,
			orDash(info.Game),
			yesNo(info.IsHost),
			yesNo(info.Modded),
			humanize.Time(info.Connected),
		})
	}
	c.render(tw, len(infos))
}

func (c *CLI) printGames() {
	games := c.deps.Games.Infos()
	tw := c.table("Code", "Host", "Players", "Map", "State", "Public", "Objects")
	for _, info := range games {
		tw.Append([]string{
			info.Code,
			strconv.Itoa(int(info.HostID)),
			strconv.Itoa(len(info.Players)),
			orDash(info.Map),
			info.State.String(),
			yesNo(info.Public),
			strconv.Itoa(info.Objects),
		})
	}
	c.render(tw, len(games))
}

func (c *CLI) printVersions() {
	groups := c.deps.Compat.Snapshot()
	tw := c.table("Group", "Versions", "Labels")
	for _, g := range groups {
		tw.Append([]string{
			strconv.Itoa(g.Index),
			strings.Join(g.Versions, ", "),
			strings.Join(g.Labels, ", "),
		})
	}
	c.render(tw, len(groups))
	fmt.Fprintf(c.out, "  Supported range: %s\n\n", c.deps.Compat.SupportedRange())
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kick <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid client id %q", args[0])
	}
	if err := c.deps.Kicker.Kick(ctx, int32(id), "console"); err != nil {
		return err
	}
	c.logger.Info().Int64("client_id", id).Msg("client kicked from console")
	fmt.Fprintf(c.out, "Client %d kicked.\n", id)
	return nil
}

func (c *CLI) cmdTeleport(ctx context.Context, args []string) error {
	if c.deps.Teleporter == nil {
		return fmt.Errorf("teleport unavailable")
	}
	if len(args) != 3 {
		return fmt.Errorf("usage: teleport <id> <x> <y>")
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid client id %q", args[0])
	}
	var coords [2]float32
	for i, arg := range args[1:] {
		f, err := strconv.ParseFloat(arg, 32)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("invalid coordinate %q", arg)
		}
		coords[i] = float32(f)
	}
	pos := protocol.Vector2{X: coords[0], Y: coords[1]}
	if err := c.deps.Teleporter.Teleport(ctx, int32(id), pos, "console"); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Client %d teleported to (%.2f, %.2f).\n", id, pos.X, pos.Y)
	return nil
}

func (c *CLI) cmdReports(ctx context.Context, args []string) error {
	if c.deps.Reports == nil {
		return fmt.Errorf("moderation store disabled")
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}
	reports, err := c.deps.Reports.ListReports(ctx, db.ReportFilter{Limit: limit})
	if err != nil {
		return err
	}

	tw := c.table("Time", "Client", "Name", "Game", "Call", "Reason", "Count")
	for _, r := range reports {
		tw.Append([]string{
			humanize.Time(r.CreatedAt),
			strconv.Itoa(int(r.ClientID)),
			r.Name,
			orDash(r.GameCode),
			r.Call,
			r.Reason,
			strconv.Itoa(r.Count),
		})
	}
	c.render(tw, len(reports))
	return nil
}

func (c *CLI) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) render(tw *tablewriter.Table, rows int) {
	fmt.Fprintln(c.out)
	if rows == 0 {
		fmt.Fprintln(c.out, "  (none)")
		fmt.Fprintln(c.out)
		return
	}
	tw.Render()
	fmt.Fprintln(c.out)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cmd/client/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/sirupsen/logrus"

	"github.com/sandreim/tictactoe3/internal/account"
	"github.com/sandreim/tictactoe3/internal/app"
	"github.com/sandreim/tictactoe3/internal/chain"
	"github.com/sandreim/tictactoe3/internal/game"
	"github.com/sandreim/tictactoe3/internal/store"
	"github.com/sandreim/tictactoe3/internal/tx"
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	title, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Tic", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("Tac", pterm.FgLightMagenta.ToStyle()),
		putils.LettersFromStringWithStyle("Toe", pterm.FgCyan.ToStyle()),
	).Srender()
	pterm.Print(title)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + cfg.RPCURL)
	client, err := chain.Dial(ctx, cfg.RPCURL, log)
	if err != nil {
		spinner.Fail()
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	name, version, err := client.ChainInfo(ctx)
	if err != nil {
		spinner.Fail()
		return fmt.Errorf("chain info: %w", err)
	}
	spinner.Success(fmt.Sprintf("Connected to %s (%s)", name, version))

	seed := cfg.SeedPhrase
	if seed == "" {
		seed, _ = pterm.DefaultInteractiveTextInput.
			WithMask("*").
			WithDefaultText("Enter your seed phrase").
			Show()
	}

	acct := account.NewManager(client, log)
	addr, err := acct.FromSeed(seed)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	pterm.Info.Printfln("Playing as %s", addr)

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("could not open store, history will not persist")
		st = nil
	}
	if st != nil {
		defer st.Close()
	}

	a := app.New(client, acct, st, log)
	wireObservers(a)

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer a.Close(context.Background())

	acct.StartBalanceUpdates(ctx, account.DefaultPollInterval, func(b account.Balance) {
		log.WithField("free", b.Free).Debug("balance updated")
	})
	defer acct.StopBalanceUpdates()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	renderSnapshot(a.Session().Snapshot())
	return commandLoop(ctx, a)
}

// openStore picks Redis when configured, SQLite otherwise.
func openStore(ctx context.Context, cfg Config) (store.Store, error) {
	if cfg.RedisAddr != "" {
		return store.OpenRedis(ctx, cfg.RedisAddr)
	}
	return store.OpenSQLite(ctx, cfg.StorePath)
}

// wireObservers attaches the terminal rendering to the app's state streams.
func wireObservers(a *app.App) {
	a.Session().OnChange(func(snap game.Snapshot) {
		renderSnapshot(snap)
	})

	a.Countdown().OnTick(func(remaining int) {
		if remaining > 0 && remaining%15 == 0 {
			pterm.Warning.Printfln("Opponent has %ds to move", remaining)
		}
	})
	a.Countdown().OnExpire(func() {
		pterm.Warning.Println("Opponent ran out of time. Type 'claim' to claim the win.")
	})
}

func renderSnapshot(snap game.Snapshot) {
	if !snap.HasGame {
		pterm.Info.Println("No active game. Type 'join' to find an opponent.")
		return
	}

	pterm.DefaultSection.Printfln("Game #%d: you are %s vs %s", snap.GameID, snap.Symbol, snap.Opponent)
	pterm.DefaultBox.Println(game.FormatBoard(snap.Board))

	switch {
	case snap.Ended:
		pterm.Info.Printfln("Game over: %s", snap.Outcome)
	case snap.MyTurn:
		pterm.Success.Println("Your turn. Type 'move <0-8>'.")
	default:
		pterm.Info.Println("Waiting for the opponent...")
	}
}

func commandLoop(ctx context.Context, a *app.App) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("command (move <0-8> | join | cancel | claim | board | history | stats | tally | quit)").
			Show()

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "move":
			if len(fields) < 2 {
				pterm.Error.Println("usage: move <0-8>")
				continue
			}
			pos, err := strconv.Atoi(fields[1])
			if err != nil {
				pterm.Error.Println("usage: move <0-8>")
				continue
			}
			if err := a.MakeMove(ctx, pos); err != nil {
				pterm.Error.Println(err.Error())
			} else {
				pterm.Info.Printfln("Move at [%d] submitted", pos)
			}
		case "join":
			if err := a.JoinQueue(ctx); err != nil {
				pterm.Error.Println(err.Error())
			} else {
				pterm.Info.Println("Joined the matchmaking queue")
			}
		case "cancel":
			if err := a.CancelQueue(ctx); err != nil {
				pterm.Error.Println(err.Error())
			}
		case "claim":
			if !a.Countdown().Expired() {
				pterm.Error.Println("The opponent's timer has not expired yet")
				continue
			}
			ok, _ := pterm.DefaultInteractiveConfirm.
				WithDefaultText("Claim the timeout victory?").
				Show()
			if !ok {
				continue
			}
			if err := a.ClaimTimeout(ctx); err != nil {
				pterm.Error.Println(err.Error())
			}
		case "board":
			renderSnapshot(a.Session().Snapshot())
		case "history":
			renderHistory(a)
		case "stats":
			renderStats(a)
		case "tally":
			t := a.Tally()
			pterm.Info.Printfln("X wins: %d  O wins: %d  draws: %d", t.XWins, t.OWins, t.Draws)
		case "quit", "exit":
			return nil
		default:
			pterm.Error.Printfln("unknown command %q", fields[0])
		}
	}
}

func renderHistory(a *app.App) {
	history := a.Tracker().History()
	if len(history) == 0 {
		pterm.Info.Println("No transactions yet")
		return
	}

	rows := pterm.TableData{{"When", "Kind", "Target", "Description", "Status"}}
	for _, rec := range history {
		submitted, _ := rec.MilestoneAt(tx.MilestoneSubmitted)
		rows = append(rows, []string{
			submitted.Format(time.TimeOnly),
			rec.Kind,
			rec.Target,
			rec.Description,
			rec.StatusText,
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func renderStats(a *app.App) {
	stats := a.Tracker().Stats()
	if stats == nil {
		pterm.Info.Println("No latency data yet")
		return
	}

	rows := pterm.TableData{{"Milestone", "Min", "Max", "Avg", "Count"}}
	rows = append(rows,
		statsRow("Ready", stats.Ready),
		statsRow("In block", stats.InBlock),
		statsRow("Finalized", stats.Finalized),
	)
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func statsRow(name string, ms tx.MilestoneStats) []string {
	if ms.Count == 0 {
		return []string{name, "-", "-", "-", "0"}
	}
	return []string{
		name,
		ms.Min.String(),
		ms.Max.String(),
		ms.Avg.String(),
		strconv.Itoa(ms.Count),
	}
}

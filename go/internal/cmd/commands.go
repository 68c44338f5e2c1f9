package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/roundclient/go/internal/countdown"
	"github.com/mcdev12/roundclient/go/internal/lifecycle"
	"github.com/mcdev12/roundclient/go/internal/models"
)

type commandKind int

const (
	commandTrade commandKind = iota
	commandRounds
	commandBalance
	commandPairs
	commandHelp
	commandQuit
)

type command struct {
	kind      commandKind
	direction models.Direction
	pairID    models.PairID
	amount    decimal.Decimal
}

const usage = "commands: up|down <pair_id> [amount], rounds, balance, pairs, help, quit"

// parseCommand reads one input line. Directions accept up/down as well as
// buy/sell.
func parseCommand(line string) (command, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return command{}, errors.New("empty command")
	}

	switch fields[0] {
	case "rounds":
		return command{kind: commandRounds}, nil
	case "balance":
		return command{kind: commandBalance}, nil
	case "pairs":
		return command{kind: commandPairs}, nil
	case "help", "?":
		return command{kind: commandHelp}, nil
	case "quit", "exit":
		return command{kind: commandQuit}, nil
	}

	direction, err := models.ParseDirection(fields[0])
	if err != nil {
		return command{}, fmt.Errorf("unknown command %q", fields[0])
	}
	if len(fields) < 2 || len(fields) > 3 {
		return command{}, fmt.Errorf("usage: %s <pair_id> [amount]", fields[0])
	}
	pairID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || pairID <= 0 {
		return command{}, fmt.Errorf("invalid pair id %q", fields[1])
	}

	cmd := command{kind: commandTrade, direction: direction, pairID: models.PairID(pairID)}
	if len(fields) == 3 {
		amount, err := decimal.NewFromString(fields[2])
		if err != nil {
			return command{}, fmt.Errorf("invalid amount %q", fields[2])
		}
		cmd.amount = amount
	}
	return cmd, nil
}

// runCommands reads commands from in until quit, EOF or ctx is done. It
// reports whether the user asked to quit.
func (s *Services) runCommands(ctx context.Context, in io.Reader, out io.Writer) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, usage)
	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				log.Debug().Msg("command input closed")
				return false
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if cmd.kind == commandQuit {
				return true
			}
			s.execute(ctx, cmd, out)
		}
	}
}

func (s *Services) execute(ctx context.Context, cmd command, out io.Writer) {
	switch cmd.kind {
	case commandTrade:
		amount := cmd.amount
		if amount.IsZero() {
			amount = s.Config.defaultAmount()
		}
		round, err := s.Controller.Create(ctx, cmd.pairID, cmd.direction, amount)
		switch {
		case err == nil:
			fmt.Fprintf(out, "placed %s on pair %d, id %s, %s to go\n",
				round.Direction.Label(), round.PairID, round.ID, countdown.Format(round.CountdownSeconds))
		case errors.Is(err, lifecycle.ErrServerTimeUnknown):
			fmt.Fprintln(out, "server time not synced yet, try again in a moment")
		case errors.Is(err, lifecycle.ErrBalanceUnknown):
			fmt.Fprintln(out, "balance not loaded yet, try again in a moment")
		case errors.Is(err, lifecycle.ErrInvalidAmount), errors.Is(err, lifecycle.ErrUnknownPair):
			fmt.Fprintln(out, err)
		}

	case commandRounds:
		now := s.Clock.Now()
		rounds := s.Controller.ActiveRounds()
		if len(rounds) == 0 {
			fmt.Fprintln(out, "no active rounds")
			return
		}
		for _, r := range rounds {
			remaining := countdown.Remaining(r, now)
			fmt.Fprintf(out, "%s  pair %d  %s  %s @ %.2f  %s  %s\n",
				r.ID, r.PairID, r.Direction.Label(), r.Amount, r.EntryPrice,
				countdown.Format(remaining), r.Status)
		}

	case commandBalance:
		if balance, ok := s.Controller.Balance(); ok {
			fmt.Fprintf(out, "balance %s\n", balance)
		} else {
			fmt.Fprintln(out, "balance unknown")
		}

	case commandPairs:
		for _, p := range s.Controller.Pairs() {
			price, ok := s.Presenter.Prices().Price(p.ID)
			if ok {
				fmt.Fprintf(out, "%d  %s  %s  %.4f\n", p.ID, p.Symbol, p.Name, price)
			} else {
				fmt.Fprintf(out, "%d  %s  %s\n", p.ID, p.Symbol, p.Name)
			}
		}

	case commandHelp:
		fmt.Fprintln(out, usage)
	}
}

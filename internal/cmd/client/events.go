package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/PhiYerion/bucface/internal/gaps"
	"github.com/PhiYerion/bucface/internal/protocol"
	"github.com/PhiYerion/bucface/internal/session"
)

var errConnectionLost = errors.New("connection to broker lost")

// await feeds responses to fn until fn reports done or an error.
func await(ctx context.Context, sess *session.Session, fn func(protocol.Response) (bool, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-sess.Inbound():
			if !ok {
				return errConnectionLost
			}
			done, err := fn(resp)
			if err != nil || done {
				return err
			}
		}
	}
}

type eventLine struct {
	ID      uint64    `json:"id"`
	Author  string    `json:"author"`
	Machine string    `json:"machine"`
	Body    string    `json:"body"`
	Time    time.Time `json:"time"`
}

func printEvent(w io.Writer, asJSON bool, ev protocol.PersistedEvent) {
	if asJSON {
		_ = json.NewEncoder(w).Encode(eventLine{ID: ev.ID, Author: ev.Author, Machine: ev.Machine, Body: ev.Body, Time: ev.Timestamp})
		return
	}
	fmt.Fprintf(w, "#%d %s %s@%s: %s\n", ev.ID, ev.Timestamp.Local().Format(time.DateTime), ev.Author, ev.Machine, ev.Body)
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid event id %q", arg)
	}
	return id, nil
}

// newSubmitCommand constructs the `submit` command.
func newSubmitCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit BODY...",
		Short: "Submit an event and print it once persisted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := e.connect(cmd.Context(), cmd, s)
			if err != nil {
				return err
			}
			defer sess.Close()

			ev := protocol.Event{
				Author:    s.author,
				Machine:   s.machine,
				Body:      strings.Join(args, " "),
				Timestamp: time.Now().UTC(),
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.timeout)
			defer cancel()
			if err := sess.Send(ctx, protocol.NewEvent{Event: ev}); err != nil {
				return err
			}
			return await(ctx, sess, func(resp protocol.Response) (bool, error) {
				switch r := resp.(type) {
				case protocol.EventRecord:
					if r.Event.Equal(ev) {
						printEvent(cmd.OutOrStdout(), s.json, r.PersistedEvent)
						return true, nil
					}
				case protocol.Error:
					if r.Code == protocol.CodeStore {
						return true, fmt.Errorf("broker could not store event: %s", r.Detail)
					}
				}
				return false, nil
			})
		},
	}
	addConnFlags(cmd)
	addIdentityFlags(cmd)
	return cmd
}

// newGetCommand constructs the `get` command.
func newGetCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get ID",
		Short: "Print one persisted event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := e.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := e.connect(cmd.Context(), cmd, s)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), s.timeout)
			defer cancel()
			if err := sess.Send(ctx, protocol.GetEvent{ID: id}); err != nil {
				return err
			}
			want := fmt.Sprintf("event %d not found", id)
			return await(ctx, sess, func(resp protocol.Response) (bool, error) {
				switch r := resp.(type) {
				case protocol.EventRecord:
					if r.ID == id {
						printEvent(cmd.OutOrStdout(), s.json, r.PersistedEvent)
						return true, nil
					}
				case protocol.Error:
					if r.Code == protocol.CodeNotFound && r.Detail == want {
						return true, errors.New(want)
					}
					if r.Code == protocol.CodeStore {
						return true, fmt.Errorf("broker store error: %s", r.Detail)
					}
				}
				return false, nil
			})
		},
	}
	addConnFlags(cmd)
	return cmd
}

// newSinceCommand constructs the `since` command. A ping with a fresh token
// follows the query; its pong marks the end of the streamed records.
func newSinceCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "since ID",
		Short: "Print every persisted event with id >= ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := e.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := e.connect(cmd.Context(), cmd, s)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), s.timeout)
			defer cancel()
			token := []byte(uuid.NewString())
			if err := sess.Send(ctx, protocol.GetSince{ID: from}); err != nil {
				return err
			}
			if err := sess.Send(ctx, protocol.Ping{Payload: token}); err != nil {
				return err
			}
			got := gaps.New(e.logger)
			err = await(ctx, sess, func(resp protocol.Response) (bool, error) {
				switch r := resp.(type) {
				case protocol.EventRecord:
					if r.ID >= from {
						got.Insert(r.PersistedEvent)
					}
				case protocol.Pong:
					return string(r.Payload) == string(token), nil
				}
				return false, nil
			})
			if err != nil {
				return err
			}
			for _, ev := range got.Events() {
				printEvent(cmd.OutOrStdout(), s.json, ev)
			}
			return nil
		},
	}
	addConnFlags(cmd)
	return cmd
}

// newPingCommand constructs the `ping` command.
func newPingCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping [PAYLOAD]",
		Short: "Round-trip a ping through the broker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := e.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := e.connect(cmd.Context(), cmd, s)
			if err != nil {
				return err
			}
			defer sess.Close()

			payload := uuid.NewString()
			if len(args) == 1 {
				payload = args[0]
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.timeout)
			defer cancel()
			start := time.Now()
			if err := sess.Send(ctx, protocol.Ping{Payload: []byte(payload)}); err != nil {
				return err
			}
			return await(ctx, sess, func(resp protocol.Response) (bool, error) {
				if p, ok := resp.(protocol.Pong); ok && string(p.Payload) == payload {
					fmt.Fprintf(cmd.OutOrStdout(), "pong %q in %s\n", payload, time.Since(start).Round(time.Microsecond))
					return true, nil
				}
				return false, nil
			})
		},
	}
	addConnFlags(cmd)
	return cmd
}

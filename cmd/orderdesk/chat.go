package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/orderdesk/config"
	"github.com/mohammad-safakhou/orderdesk/internal/conversation"
	"github.com/mohammad-safakhou/orderdesk/internal/orchestrator"
	srv "github.com/mohammad-safakhou/orderdesk/internal/server"
	"github.com/spf13/cobra"
)

const chatHelp = `commands: /confirm  /decline  /state  /reset  /quit`

func chatCMD() *cobra.Command {
	var cfgPath string
	var identity string
	var useBackends bool
	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Talk to the support engine from the terminal",
		Long:  "Runs the conversation engine in-process. Unless --backends is set, state and orders are kept in memory with the demo order seed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if !useBackends {
				localOnly(cfg)
			}
			// keep engine logs out of the transcript
			log.SetOutput(io.Discard)
			app, err := srv.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return runChat(cmd.Context(), app.Engine, os.Stdin, os.Stdout, identity)
		},
	}
	chat.Flags().StringVar(&identity, "as", "", "customer email used as caller identity")
	chat.Flags().BoolVar(&useBackends, "backends", false, "use the configured redis/postgres backends")
	chat.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return chat
}

func localOnly(cfg *config.Config) {
	cfg.Storage.State.Driver = "memory"
	cfg.Storage.Orders = "memory"
	cfg.Storage.Redis = config.RedisConfig{}
	cfg.Storage.Postgres = config.PostgresConfig{}
	cfg.CRM.Token = ""
	cfg.Server.AutoMigrate = false
}

func runChat(ctx context.Context, engine *orchestrator.Engine, in io.Reader, out io.Writer, identity string) error {
	id := uuid.NewString()
	fmt.Fprintf(out, "conversation %s\n%s\n", id, chatHelp)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		req := orchestrator.TurnRequest{ConversationID: id, Message: line, Identity: identity}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := engine.Clear(ctx, id); err != nil {
				return err
			}
			id = uuid.NewString()
			fmt.Fprintf(out, "conversation %s\n", id)
			continue
		case "/state":
			s, err := engine.State(ctx, id)
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(out, "(no state yet)")
				continue
			}
			fmt.Fprintf(out, "phase=%s status=%s intent=%s order=%s invocations=%d\n",
				s.Phase, s.Status, s.Intent, s.Entities.OrderID, s.TotalInvocations())
			continue
		case "/confirm", "/decline":
			d := strings.TrimPrefix(line, "/")
			req.Message = d
			req.Confirmation = d
		}
		resp := engine.Handle(ctx, req)
		fmt.Fprintf(out, "%s\n", resp.Reply)
		for _, b := range resp.Buttons {
			fmt.Fprintf(out, "  [/%s] %s\n", b.Value, b.Label)
		}
		if resp.Status == conversation.StatusHandoff {
			fmt.Fprintln(out, "(handed over to a human agent)")
		}
	}
}

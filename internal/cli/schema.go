package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/spf13/cobra"
)

// protocolTypes are the wire frames and bodies a schema can be printed for.
var protocolTypes = map[string]any{
	"inbound":       &chessdto.Inbound{},
	"move":          &chessdto.MoveEvent{},
	"state":         &chessdto.StateEvent{},
	"joined":        &chessdto.JoinedEvent{},
	"resigned":      &chessdto.ResignedEvent{},
	"error":         &chessdto.ErrorEvent{},
	"online_users":  &chessdto.OnlineUsersEvent{},
	"credentials":   &chessdto.Credentials{},
	"create_game":   &chessdto.CreateGameRequest{},
	"game":          &chessdto.GameView{},
	"domain_error":  &chessdto.DomainError{},
	"auth_response": &chessdto.AuthResponse{},
}

func protocolNames() []string {
	names := make([]string, 0, len(protocolTypes))
	for k := range protocolTypes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func buildSchema(name string) (*jsonschema.Schema, error) {
	v, ok := protocolTypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %q: one of %v", name, protocolNames())
	}
	reflector := jsonschema.Reflector{DoNotReference: true}
	s := reflector.Reflect(v)
	s.Title = "cheese-arena " + name
	return s, nil
}

func newSchemaCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [type]",
		Short: "Print the JSON schema of a protocol message (no argument lists types)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, n := range protocolNames() {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			s, err := buildSchema(args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

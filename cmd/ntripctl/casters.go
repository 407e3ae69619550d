package main

import (
	"fmt"
	"strconv"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/spf13/cobra"
)

func castersCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "casters",
		Aliases: []string{"caster"},
		Short:   "Manage registered casters",
	}
	cmd.AddCommand(castersListCmd(g))
	cmd.AddCommand(castersAddCmd(g))
	cmd.AddCommand(castersRemoveCmd(g))
	return cmd
}

func castersListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered casters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			casters, err := store.ListCasters(cmd.Context())
			if err != nil {
				return err
			}
			if len(casters) == 0 {
				fmt.Println(muted("no casters registered"))
				return nil
			}

			rows := make([][]string, len(casters))
			for i, c := range casters {
				auth := "-"
				if c.Username != "" {
					auth = c.Username
				}
				rows[i] = []string{c.Name, c.Host, strconv.Itoa(c.Port), auth, c.UpdatedAt.Local().Format("2006-01-02 15:04")}
			}
			fmt.Println(renderTable([]string{"Name", "Host", "Port", "User", "Updated"}, rows))
			return nil
		},
	}
}

func castersAddCmd(g *globalFlags) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "add <name> <host[:port]>",
		Short: "Register a caster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, port, err := parseTarget(args[1])
			if err != nil {
				return err
			}

			_, store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			caster := &database.Caster{
				Name:     args[0],
				Host:     host,
				Port:     port,
				Username: username,
				Password: password,
			}
			if err := store.CreateCaster(cmd.Context(), caster); err != nil {
				return err
			}
			fmt.Println(successMsg("added %s (%s:%d)", caster.Name, caster.Host, caster.Port))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "", "Username for Basic auth")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password for Basic auth")
	return cmd
}

func castersRemoveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Remove a caster and its state record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := g.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteCaster(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := store.DeleteState(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(successMsg("removed %s", args[0]))
			return nil
		},
	}
}

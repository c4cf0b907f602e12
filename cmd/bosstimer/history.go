package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"bosstimer/internal/api"
	"bosstimer/internal/history"

	"github.com/urfave/cli"
)

func listHistory(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	h, err := client(c).History(ctx)
	if err != nil {
		return describe(err)
	}
	if c.Bool("json") {
		return printJSON(os.Stdout, h)
	}
	if len(h.Items) == 0 {
		fmt.Printf("no alerts yet (keeping %d)\n", h.Limit)
		return nil
	}
	writeHistory(os.Stdout, h.Items)
	return nil
}

func writeHistory(w io.Writer, items []history.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWHEN\tTYPE\tTITLE")
	for _, e := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.TriggeredAt.Local().Format("2006-01-02 15:04:05"), e.Type, e.Title)
	}
	_ = tw.Flush()
}

func setHistoryLimit(c *cli.Context) error {
	raw, err := firstArg(c, errors.New("no limit provided"))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid limit %q", raw)
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	got, err := client(c).SetHistoryLimit(ctx, n)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("keeping %d alerts\n", got)
	return nil
}

func deleteHistory(c *cli.Context) error {
	id, err := firstArg(c, errNoID)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).DeleteHistory(ctx, id); err != nil {
		return describe(err)
	}
	fmt.Println("deleted", id)
	return nil
}

func clearHistory(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).ClearHistory(ctx); err != nil {
		return describe(err)
	}
	fmt.Println("history cleared")
	return nil
}

func layout(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	cl := client(c)
	var (
		v   string
		err error
	)
	if want := c.Args().First(); want != "" {
		v, err = cl.SetLayout(ctx, want)
	} else {
		v, err = cl.Layout(ctx)
	}
	if err != nil {
		return describe(err)
	}
	fmt.Println(v)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describe turns API errors into CLI messages.
func describe(err error) error {
	var ae *api.APIError
	if !errors.As(err, &ae) {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	switch {
	case ae.Index != nil && ae.Field != "":
		return fmt.Errorf("%s (item %d, field %s)", ae.Message, *ae.Index, ae.Field)
	case ae.Field != "":
		return fmt.Errorf("%s (field %s)", ae.Message, ae.Field)
	case ae.Status == 404:
		return errors.New("not found")
	default:
		return ae
	}
}

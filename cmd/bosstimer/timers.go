package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"bosstimer/internal/api"
	"bosstimer/internal/timer"

	"github.com/urfave/cli"
)

var (
	addFlags = []cli.Flag{
		cli.IntFlag{Name: "minutes, m", Usage: "countdown length in minutes"},
		cli.BoolFlag{Name: "repeat, r", Usage: "restart the countdown after it fires"},
		cli.StringFlag{Name: "daily, d", Usage: "fire every day at HH:MM instead of counting down"},
		cli.StringFlag{Name: "pre, p", Usage: "comma separated pre-alert minutes, e.g. 5,10,15"},
	}
	listFlags = []cli.Flag{
		cli.BoolFlag{Name: "json", Usage: "print raw JSON"},
	}
	delayFlags = []cli.Flag{
		cli.IntFlag{Name: "minutes, m", Usage: "minutes to delay by"},
	}
	exportFlags = []cli.Flag{
		cli.StringFlag{Name: "out, o", Usage: "write to file instead of stdout"},
	}
)

var errNoID = errors.New("no id provided")

// firstArg returns the first positional argument or shows command help.
func firstArg(c *cli.Context, err error) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		_ = cli.ShowCommandHelp(c, c.Command.Name)
		return "", err
	}
	return v, nil
}

// parseSpec turns add flags into a timer spec.
func parseSpec(name string, minutes int, repeat bool, daily, pre string) (timer.Spec, error) {
	spec := timer.Spec{Name: name, Mode: timer.ModeCountdown, Minutes: minutes, Repeat: repeat}
	if daily != "" {
		spec = timer.Spec{Name: name, Mode: timer.ModeDaily, DailyHHMM: daily}
	}
	if pre = strings.TrimSpace(pre); pre != "" {
		for _, part := range strings.Split(pre, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return timer.Spec{}, fmt.Errorf("invalid pre-alert %q", part)
			}
			spec.PreAlerts = append(spec.PreAlerts, n)
		}
	}
	return spec, nil
}

func addTimer(c *cli.Context) error {
	name := strings.TrimSpace(strings.Join(c.Args(), " "))
	if name == "" {
		_ = cli.ShowCommandHelp(c, c.Command.Name)
		return errors.New("no name provided")
	}
	spec, err := parseSpec(name, c.Int("minutes"), c.Bool("repeat"), c.String("daily"), c.String("pre"))
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	v, err := client(c).AddTimer(ctx, spec)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("added %s (%s), fires in %s\n", v.Name, v.ID, v.Remain.Label)
	return nil
}

func listTimers(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	l, err := client(c).ListTimers(ctx)
	if err != nil {
		return describe(err)
	}
	if c.Bool("json") {
		return printJSON(os.Stdout, l)
	}
	if len(l.Items) == 0 {
		fmt.Println("no timers")
		return nil
	}
	writeTimers(os.Stdout, l.Items)
	return nil
}

func writeTimers(w io.Writer, items []api.TimerView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tNEXT\tREMAIN")
	for _, v := range items {
		next := time.UnixMilli(v.NextAt).Local().Format("2006-01-02 15:04")
		remain := v.Remain.Label
		if v.Remain.Urgency != "" {
			remain += " (" + string(v.Remain.Urgency) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, scheduleLabel(v.Timer), next, remain)
	}
	_ = tw.Flush()
}

func scheduleLabel(t timer.Timer) string {
	if t.Mode == timer.ModeDaily {
		return "daily " + t.DailyHHMM
	}
	s := fmt.Sprintf("%dm", t.DurationMs/int64(time.Minute/time.Millisecond))
	if t.RepeatEvery {
		s += " repeat"
	}
	return s
}

func deleteTimer(c *cli.Context) error {
	id, err := firstArg(c, errNoID)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).DeleteTimer(ctx, id); err != nil {
		return describe(err)
	}
	fmt.Println("deleted", id)
	return nil
}

func delayTimer(c *cli.Context) error {
	id, err := firstArg(c, errNoID)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	v, err := client(c).Delay(ctx, id, c.Int("minutes"))
	if err != nil {
		return describe(err)
	}
	fmt.Printf("delayed %s, fires in %s\n", v.Name, v.Remain.Label)
	return nil
}

func testTimer(c *cli.Context) error {
	id, err := firstArg(c, errNoID)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).TestNotify(ctx, id); err != nil {
		return describe(err)
	}
	fmt.Println("test notification sent")
	return nil
}

func exportTimers(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	b, err := client(c).Export(ctx)
	if err != nil {
		return describe(err)
	}
	out := c.String("out")
	if out == "" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return err
	}
	fmt.Println("exported to", out)
	return nil
}

func importTimers(c *cli.Context) error {
	src, err := firstArg(c, errors.New("no file provided"))
	if err != nil {
		return err
	}
	var data []byte
	if src == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := client(c).Import(ctx, data)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("imported %d timers\n", res.Imported)
	for _, sk := range res.Skipped {
		if sk.Field != "" {
			fmt.Fprintf(os.Stderr, "skipped item %d (field %s): %s\n", sk.Index, sk.Field, sk.Reason)
		} else {
			fmt.Fprintf(os.Stderr, "skipped item %d: %s\n", sk.Index, sk.Reason)
		}
	}
	return nil
}

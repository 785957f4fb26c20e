package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
	"github.com/shaxzod-muhandis/Admin-Panel/views"
)

var fieldFlags = map[views.Field]string{
	views.FieldFirstName: "first-name",
	views.FieldLastName:  "last-name",
	views.FieldPhone:     "phone",
	views.FieldPinfl:     "pinfl",
	views.FieldDegree:    "degree",
	views.FieldPosition:  "position",
}

func recordFlags() []cli.Flag {
	flags := make([]cli.Flag, 0, len(views.FormFields))
	for _, f := range views.FormFields {
		flags = append(flags, &cli.StringFlag{Name: fieldFlags[f]})
	}
	return flags
}

func idArg(c *cli.Context, name string) (teachers.ID, error) {
	raw := strings.TrimSpace(c.Args().First())
	if raw == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return teachers.ID(raw), nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "print one page of teachers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Usage: "zero-based page index"},
		},
		Action: func(c *cli.Context) error {
			ctr, err := container(c)
			if err != nil {
				return err
			}
			list := ctr.NewListView()
			defer list.Close()

			err = list.Load(c.Context)
			if err = retryOnce(err, list.State().Retryable, func() error { return list.Retry(c.Context) }); err != nil {
				return err
			}
			if page := c.Int("page"); page != 0 {
				if err := list.Handle(c.Context, views.Event{Kind: views.PageChanged, Page: page}); err != nil {
					return err
				}
			}
			return printPage(c.App.Writer, list.State())
		},
	}
}

// retryOnce repeats a failed load a single time when the failure is transient.
func retryOnce(err error, retryable bool, retry func() error) error {
	if err == nil || !retryable {
		return err
	}
	return retry()
}

func printPage(w io.Writer, s views.ListState) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tPINFL\tDEGREE\tPOSITION")
	for _, r := range s.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.FullName(), r.Phone, r.Pinfl, r.Degree, r.Position)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d/%d, %d teachers\n", s.Page+1, s.TotalPages, s.TotalItems)
	return err
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "print one teacher",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := idArg(c, "id")
			if err != nil {
				return err
			}
			ctr, err := container(c)
			if err != nil {
				return err
			}
			detail := ctr.NewDetailView(id)
			defer detail.Close()

			rec, err := detail.Load(c.Context)
			err = retryOnce(err, detail.State().Retryable, func() (err error) {
				rec, err = detail.Retry(c.Context)
				return err
			})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, rec)
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "add a teacher",
		Flags: recordFlags(),
		Action: func(c *cli.Context) error {
			ctr, err := container(c)
			if err != nil {
				return err
			}
			form := ctr.NewCreateForm()
			defer form.Close()
			return submit(c, form)
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "change a teacher's fields; unset flags keep their value",
		ArgsUsage: "<id>",
		Flags:     recordFlags(),
		Action: func(c *cli.Context) error {
			id, err := idArg(c, "id")
			if err != nil {
				return err
			}
			ctr, err := container(c)
			if err != nil {
				return err
			}
			rec, err := ctr.Roster().GetOne(c.Context, id)
			if err != nil {
				return err
			}
			form := ctr.NewEditForm(rec)
			defer form.Close()
			return submit(c, form)
		},
	}
}

// submit copies set flags into the form and submits it.
func submit(c *cli.Context, form *views.EditForm) error {
	for _, f := range views.FormFields {
		name := fieldFlags[f]
		if form.Mode() == views.ModeEdit && !c.IsSet(name) {
			continue
		}
		_ = form.Set(f, c.String(name))
	}
	if !form.Valid() {
		return formError(form.Errors())
	}

	rec, err := form.Submit(c.Context)
	var verr *teachers.ValidationError
	if errors.As(err, &verr) {
		return formError(form.Errors())
	}
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, rec)
}

func formError(errs map[views.Field]string) error {
	msgs := make([]string, 0, len(errs))
	for f, msg := range errs {
		name, ok := fieldFlags[f]
		if !ok {
			name = string(f)
		}
		msgs = append(msgs, name+": "+msg)
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid input: %s", strings.Join(msgs, "; "))
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "remove a teacher",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip the confirmation prompt"},
		},
		Action: func(c *cli.Context) error {
			id, err := idArg(c, "id")
			if err != nil {
				return err
			}
			ctr, err := container(c)
			if err != nil {
				return err
			}
			list := ctr.NewListView()
			defer list.Close()

			confirm, err := list.RequestDelete(id)
			if err != nil {
				return err
			}
			if !c.Bool("yes") && !ask(c.App.Writer, os.Stdin, fmt.Sprintf("Delete teacher %s? [y/N] ", id)) {
				confirm.Cancel()
				fmt.Fprintln(c.App.Writer, "cancelled")
				return nil
			}
			if err := confirm.Confirm(c.Context); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
			return nil
		},
	}
}

func ask(w io.Writer, r io.Reader, prompt string) bool {
	fmt.Fprint(w, prompt)
	line, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func facesCommand() *cli.Command {
	return &cli.Command{
		Name:      "faces",
		Usage:     "list a teacher's face images",
		ArgsUsage: "<teacher-id>",
		Action: func(c *cli.Context) error {
			id, err := idArg(c, "teacher-id")
			if err != nil {
				return err
			}
			ctr, err := container(c)
			if err != nil {
				return err
			}
			gallery := ctr.NewFaceGallery(id)
			defer gallery.Close()

			_, err = gallery.Load(c.Context)
			err = retryOnce(err, gallery.State().Retryable, func() error {
				_, err := gallery.Retry(c.Context)
				return err
			})
			if err != nil {
				return err
			}
			resolveErr := gallery.ResolveAll(c.Context)

			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FACE\tIMAGE\tSOURCE\tBYTES")
			for _, slot := range gallery.State().Slots {
				size := "-"
				if blob, ok := gallery.Blobs().Get(slot.Ref); ok {
					size = fmt.Sprint(len(blob.Data))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", slot.Face.ID, slot.Face.ImgID, slot.Source(), size)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return resolveErr
		},
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:      "image",
		Usage:     "download a stored image",
		ArgsUsage: "<image-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			id, err := idArg(c, "image-id")
			if err != nil {
				return err
			}
			ctr, err := container(c)
			if err != nil {
				return err
			}
			blob, err := ctr.Roster().FetchImageBlob(c.Context, id)
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				return os.WriteFile(out, blob.Data, 0o644)
			}
			_, err = c.App.Writer.Write(blob.Data)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

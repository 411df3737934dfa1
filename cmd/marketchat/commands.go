package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"campusmarket/internal/app/chat"
	"campusmarket/internal/sdk"
)

func registerAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	res, err := client.Register(c.Context, sdk.RegisterRequest{
		Email:       c.String("email"),
		DisplayName: c.String("name"),
		Password:    c.String("password"),
		Campus:      c.String("campus"),
	})
	if err != nil {
		return err
	}
	if err := saveToken(c.String("session-file"), res.Token); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "signed in as %s <%s>\n", res.User.DisplayName, res.User.Email)
	return nil
}

func loginAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	res, err := client.Login(c.Context, c.String("email"), c.String("password"))
	if err != nil {
		return err
	}
	if err := saveToken(c.String("session-file"), res.Token); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "signed in as %s <%s>\n", res.User.DisplayName, res.User.Email)
	return nil
}

func logoutAction(c *cli.Context) error {
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	if err := client.Logout(c.Context); err != nil && !errors.Is(err, sdk.ErrNotSignedIn) {
		return err
	}
	return saveToken(c.String("session-file"), "")
}

func whoamiAction(c *cli.Context) error {
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	me, err := client.Me(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s <%s> id=%s roles=%s\n", me.DisplayName, me.Email, me.ID, strings.Join(me.Roles, ","))
	return nil
}

func listingsAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	catalog, err := client.Catalog(c.Context, sdk.CatalogParams{
		Kind:  c.String("kind"),
		Query: c.String("query"),
		Limit: c.Int("limit"),
	})
	if err != nil {
		return err
	}
	for _, l := range catalog.Items {
		fmt.Fprintf(c.App.Writer, "%-24s %-11s %10s  %s\n", l.ID, l.Kind, formatPrice(l.PriceCents), l.Title)
	}
	fmt.Fprintf(c.App.Writer, "%d of %d listings\n", len(catalog.Items), catalog.Total)
	return nil
}

func interestedAction(c *cli.Context) error {
	listingID := strings.TrimSpace(c.Args().First())
	if listingID == "" {
		return errors.New("listing id is required")
	}
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	conv, err := client.StartConversation(c.Context, listingID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "conversation %s with %s\n", conv.ID, conv.Seller.DisplayName)
	return nil
}

func inboxAction(c *cli.Context) error {
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	m, err := openMessenger(c.Context, c, client, nil)
	if err != nil {
		return err
	}
	defer m.Close()
	items := m.Inbox().Load(c.Context, c.Bool("archived"))
	if err := m.Inbox().Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(c.App.Writer, "no conversations")
		return nil
	}
	for _, item := range items {
		fmt.Fprintln(c.App.Writer, formatInboxItem(item))
	}
	return nil
}

func sendAction(c *cli.Context) error {
	id, err := conversationArg(c)
	if err != nil {
		return err
	}
	files, closeFiles, err := openFiles(c.StringSlice("attach"))
	if err != nil {
		return err
	}
	defer closeFiles()

	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	m, err := openMessenger(c.Context, c, client, nil)
	if err != nil {
		return err
	}
	defer m.Close()

	stream, err := m.Select(c.Context, id)
	if err != nil {
		return err
	}
	composer, err := m.Composer()
	if err != nil {
		return err
	}
	tempID, err := composer.Submit(c.Context, c.String("text"), files)
	if err != nil {
		return err
	}
	stream.Wait()
	for _, e := range stream.Entries() {
		if e.TempID != tempID {
			continue
		}
		if e.Kind == chat.EntryFailed {
			return fmt.Errorf("send failed: %w", e.Err)
		}
		fmt.Fprintf(c.App.Writer, "sent %s\n", e.Message.ID)
		return nil
	}
	return errors.New("send outcome unknown")
}

func archiveAction(c *cli.Context) error {
	id, err := conversationArg(c)
	if err != nil {
		return err
	}
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	return client.SetArchived(c.Context, id, !c.Bool("undo"))
}

func deleteAction(c *cli.Context) error {
	id, err := conversationArg(c)
	if err != nil {
		return err
	}
	client, err := signedInClient(c)
	if err != nil {
		return err
	}
	return client.DeleteConversation(c.Context, id)
}

package main

import (
	"context"

	"github.com/desertthunder/themeroom/internal/models"
	"github.com/urfave/cli/v3"
)

// InviteSend invites a user to collaborate.
func (r *Runner) InviteSend(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 2, "<playlist-id> <user>")
	if err != nil {
		return err
	}
	role, err := models.ParseInviteRole(cmd.String("role"))
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}

	c, err := w.Invite(ctx, a[0], a[1], role)
	if err != nil {
		return err
	}
	r.writePlain("✓ Invited %s as %s\n", c.DisplayName, c.Role)
	return r.writePlain("Invitation: %s\n", c.ID)
}

// InviteRespond accepts or declines an invitation.
func (r *Runner) InviteRespond(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 2, "<invitation-id> <accept|decline>")
	if err != nil {
		return err
	}
	action, err := models.ParseResponseAction(a[1])
	if err != nil {
		return err
	}
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}

	c, err := w.Respond(ctx, a[0], action)
	if err != nil {
		return err
	}
	return r.writePlain("✓ Invitation %s\n", c.Status)
}

// InviteList lists a playlist's collaborators.
func (r *Runner) InviteList(ctx context.Context, cmd *cli.Command) error {
	a, err := args(cmd, 1, "<playlist-id>")
	if err != nil {
		return err
	}
	export, err := r.fetchVisible(ctx, a[0])
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(export.Collaborators, cmd.Bool("pretty"))
	}
	r.writePlain("%-20s %-8s %s\n", export.Playlist.OwnerID, models.RoleOwner, "owner")
	for _, c := range export.Collaborators {
		r.writePlain("%-20s %-8s %s\n", c.DisplayName, c.Role, c.Status)
	}
	return nil
}

// InvitePending lists the current user's open invitations.
func (r *Runner) InvitePending(ctx context.Context, cmd *cli.Command) error {
	w, err := r.workflow(ctx)
	if err != nil {
		return err
	}
	invitations, err := w.PendingFor(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(invitations, cmd.Bool("pretty"))
	}
	if len(invitations) == 0 {
		return r.writePlain("No pending invitations\n")
	}
	for _, inv := range invitations {
		r.writePlain("%s  %-30s  %-6s  from %s\n", inv.ID, inv.PlaylistName, inv.Role, inv.InvitedBy)
	}
	return nil
}

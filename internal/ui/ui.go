package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/themeroom/internal/collab"
	"github.com/desertthunder/themeroom/internal/formatter"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/playback"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PlaylistListView ViewState = iota
	InvitationsView
	SessionView
)

const activityLines = 6

// SessionFactory builds an unstarted session for a playlist.
type SessionFactory func(ctx context.Context, playlistID string) (*collab.Session, error)

// Model represents the TUI application state.
type Model struct {
	ctx        context.Context
	view       ViewState
	workflow   *collab.Workflow
	newSession SessionFactory
	width      int
	height     int

	playlistList list.Model
	inviteList   list.Model
	queueList    list.Model

	session       *collab.Session
	events        <-chan collab.Event
	stopEvents    func()
	snapshots     <-chan playback.Snapshot
	stopSnapshots func()
	snapshot      playback.Snapshot
	roster        []models.PresenceEntry
	channelDown   bool

	status string
	err    error
	help   help.Model
	keys   keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, workflow *collab.Workflow, newSession SessionFactory) *Model {
	m := &Model{
		ctx:        ctx,
		view:       PlaylistListView,
		workflow:   workflow,
		newSession: newSession,
		help:       help.New(),
		keys:       newKeyMap(),
	}
	m.playlistList = newList("Playlists", nil)
	m.inviteList = newList("Invitations", nil)
	m.queueList = newList("Queue", nil)
	return m
}

func newList(title string, items []list.Item) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetShowHelp(false)
	return l
}

// Init initializes the TUI by fetching the user's playlists.
func (m *Model) Init() tea.Cmd {
	return m.fetchPlaylists()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && !m.filtering() {
			m.closeSession()
			return m, tea.Quit
		}
		switch m.view {
		case PlaylistListView:
			return m.handlePlaylistListKeys(msg)
		case InvitationsView:
			return m.handleInvitationKeys(msg)
		case SessionView:
			return m.handleSessionKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPlaylistsFetched:
		d := msg.data.(playlistsData)
		if d.err != nil {
			m.err = d.err
			return m, nil
		}
		items := make([]list.Item, len(d.playlists))
		for i, pl := range d.playlists {
			items[i] = playlistItem{playlist: pl}
		}
		m.playlistList.SetItems(items)
		return m, nil

	case MsgInvitationsFetched:
		d := msg.data.(invitationsData)
		if d.err != nil {
			m.err = d.err
			return m, nil
		}
		items := make([]list.Item, len(d.invitations))
		for i, inv := range d.invitations {
			items[i] = invitationItem{invitation: inv}
		}
		m.inviteList.SetItems(items)
		return m, nil

	case MsgInvitationAnswered:
		d := msg.data.(answeredData)
		if d.err != nil {
			m.err = d.err
			return m, nil
		}
		m.status = fmt.Sprintf("invitation %s", d.collaborator.Status)
		return m, tea.Batch(m.fetchInvitations(), m.fetchPlaylists())

	case MsgSessionStarted:
		d := msg.data.(sessionData)
		if d.err != nil {
			m.err = d.err
			m.view = PlaylistListView
			return m, nil
		}
		m.session = d.session
		m.events, m.stopEvents = d.session.Events()
		m.snapshots, m.stopSnapshots = d.session.Transport().Subscribe()
		m.snapshot = d.session.Transport().Snapshot()
		m.roster = d.session.Roster()
		m.channelDown = false
		m.view = SessionView
		m.refreshQueue()
		return m, tea.Batch(waitForEvent(m.events), waitForSnapshot(m.snapshots))

	case MsgSessionEvent:
		ev := msg.data.(collab.Event)
		m.applyEvent(ev)
		return m, waitForEvent(m.events)

	case MsgSnapshot:
		s := msg.data.(playback.Snapshot)
		changed := s.CurrentIndex != m.snapshot.CurrentIndex || s.QueueLen != m.snapshot.QueueLen
		m.snapshot = s
		if changed {
			m.refreshQueue()
		}
		return m, waitForSnapshot(m.snapshots)

	case MsgSessionClosed:
		return m, nil

	case MsgActionDone:
		d := msg.data.(actionData)
		if d.err != nil {
			m.status = styles.err.Render(fmt.Sprintf("%s: %v", d.label, d.err))
		} else {
			m.status = d.label
		}
		m.refreshQueue()
		return m, nil
	}
	return m, nil
}

func (m *Model) applyEvent(ev collab.Event) {
	switch ev.Kind {
	case collab.EventChangeApplied:
		if ev.Change != nil {
			m.status = formatter.DescribeChange(*ev.Change)
		}
		m.refreshQueue()
	case collab.EventPresenceChanged:
		m.roster = ev.Roster
	case collab.EventMetadataChanged:
		if ev.Playlist != nil {
			m.status = fmt.Sprintf("playlist renamed to %q", ev.Playlist.Name)
		}
	case collab.EventChannelDown:
		m.channelDown = true
	case collab.EventChannelRestored:
		m.channelDown = false
		m.refreshQueue()
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case PlaylistListView:
		body = m.renderPlaylistList()
	case InvitationsView:
		body = m.renderInvitations()
	case SessionView:
		body = m.renderSession()
	}
	if m.err != nil {
		body += "\n" + styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return body
}

func (m *Model) filtering() bool {
	switch m.view {
	case PlaylistListView:
		return m.playlistList.FilterState() == list.Filtering
	case InvitationsView:
		return m.inviteList.FilterState() == list.Filtering
	default:
		return m.queueList.FilterState() == list.Filtering
	}
}

func (m *Model) resize() {
	w, h := max(m.width-4, 0), max(m.height-8, 0)
	m.playlistList.SetSize(w, h)
	m.inviteList.SetSize(w, h)
	m.queueList.SetSize(max(w*2/3, 0), max(h-4, 0))
}

func (m *Model) handlePlaylistListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering() {
		return m.updateLists(msg)
	}
	switch {
	case key.Matches(msg, m.keys.enter):
		if pl, ok := m.playlistList.SelectedItem().(playlistItem); ok {
			m.err = nil
			m.status = fmt.Sprintf("joining %s…", pl.playlist.Name)
			return m, m.openSession(pl.playlist.ID)
		}
		return m, nil
	case key.Matches(msg, m.keys.invites):
		m.err = nil
		m.view = InvitationsView
		return m, m.fetchInvitations()
	}
	return m.updateLists(msg)
}

func (m *Model) handleInvitationKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering() {
		return m.updateLists(msg)
	}
	switch {
	case key.Matches(msg, m.keys.back):
		m.view = PlaylistListView
		return m, nil
	case key.Matches(msg, m.keys.yes), key.Matches(msg, m.keys.no):
		inv, ok := m.inviteList.SelectedItem().(invitationItem)
		if !ok {
			return m, nil
		}
		action := models.Accept
		if key.Matches(msg, m.keys.no) {
			action = models.Decline
		}
		return m, m.respond(inv.invitation.ID, action)
	}
	return m.updateLists(msg)
}

func (m *Model) handleSessionKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filtering() {
		return m.updateLists(msg)
	}
	s := m.session
	if s == nil {
		m.view = PlaylistListView
		return m, nil
	}
	tr := s.Transport()
	ctx := m.ctx

	switch {
	case key.Matches(msg, m.keys.back):
		m.closeSession()
		m.view = PlaylistListView
		return m, m.fetchPlaylists()
	case key.Matches(msg, m.keys.enter):
		i := m.queueList.Index()
		return m, run("playing", func() error { return tr.SelectTrack(ctx, i) })
	case key.Matches(msg, m.keys.toggle):
		if m.snapshot.IsPlaying {
			return m, run("paused", tr.Pause)
		}
		return m, run("playing", func() error { return tr.Play(ctx) })
	case key.Matches(msg, m.keys.next):
		return m, run("next", func() error { return tr.Next(ctx) })
	case key.Matches(msg, m.keys.previous):
		return m, run("previous", func() error { return tr.Previous(ctx) })
	case key.Matches(msg, m.keys.shuffle):
		on := tr.ToggleShuffle()
		m.status = fmt.Sprintf("shuffle %s", onOff(on))
		return m, nil
	case key.Matches(msg, m.keys.repeat):
		m.status = fmt.Sprintf("repeat %s", tr.ToggleRepeat())
		return m, nil
	case key.Matches(msg, m.keys.louder):
		tr.SetVolume(m.snapshot.Volume + 0.1)
		return m, nil
	case key.Matches(msg, m.keys.quieter):
		tr.SetVolume(m.snapshot.Volume - 0.1)
		return m, nil
	case key.Matches(msg, m.keys.moveUp), key.Matches(msg, m.keys.moveDown):
		delta := 1
		if key.Matches(msg, m.keys.moveUp) {
			delta = -1
		}
		i := m.queueList.Index()
		order, ok := moveTrack(tr.Queue(), i, delta)
		if !ok {
			return m, nil
		}
		m.queueList.Select(i + delta)
		return m, run("reordered", func() error { return s.Reorder(ctx, order) })
	case key.Matches(msg, m.keys.remove):
		it, ok := m.queueList.SelectedItem().(trackItem)
		if !ok {
			return m, nil
		}
		id := it.track.ID
		return m, run("removed "+it.track.Label(), func() error { return s.RemoveTrack(ctx, id) })
	}
	return m.updateLists(msg)
}

// moveTrack returns the track ids with the one at i shifted by delta, or false when the move
// would leave the queue.
func moveTrack(tracks []models.Track, i, delta int) ([]string, bool) {
	j := i + delta
	if i < 0 || i >= len(tracks) || j < 0 || j >= len(tracks) {
		return nil, false
	}
	order := make([]string, len(tracks))
	for k, t := range tracks {
		order[k] = t.ID
	}
	order[i], order[j] = order[j], order[i]
	return order, true
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PlaylistListView:
		m.playlistList, cmd = m.playlistList.Update(msg)
	case InvitationsView:
		m.inviteList, cmd = m.inviteList.Update(msg)
	case SessionView:
		m.queueList, cmd = m.queueList.Update(msg)
	}
	return m, cmd
}

// refreshQueue rebuilds the queue list from the transport, keeping the cursor in range.
func (m *Model) refreshQueue() {
	if m.session == nil {
		return
	}
	tracks := m.session.Transport().Queue()
	current := m.session.Transport().Snapshot().CurrentIndex
	items := make([]list.Item, len(tracks))
	for i, t := range tracks {
		items[i] = trackItem{track: t, current: i == current}
	}
	cursor := m.queueList.Index()
	m.queueList.SetItems(items)
	m.queueList.Title = m.session.Playlist().Name
	if len(items) > 0 {
		m.queueList.Select(min(cursor, len(items)-1))
	}
}

func (m *Model) closeSession() {
	if m.session == nil {
		return
	}
	if m.stopSnapshots != nil {
		m.stopSnapshots()
	}
	if m.stopEvents != nil {
		m.stopEvents()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = m.session.Stop(ctx)
	m.session = nil
	m.events, m.snapshots = nil, nil
	m.stopEvents, m.stopSnapshots = nil, nil
	m.roster = nil
	m.status = ""
}

func (m *Model) fetchPlaylists() tea.Cmd {
	return func() tea.Msg {
		if m.workflow == nil {
			return playlistsFetchedMsg(nil, nil)
		}
		playlists, err := m.workflow.Playlists(m.ctx)
		return playlistsFetchedMsg(playlists, err)
	}
}

func (m *Model) fetchInvitations() tea.Cmd {
	return func() tea.Msg {
		if m.workflow == nil {
			return invitationsFetchedMsg(nil, nil)
		}
		invitations, err := m.workflow.PendingFor(m.ctx)
		return invitationsFetchedMsg(invitations, err)
	}
}

func (m *Model) respond(id string, action models.ResponseAction) tea.Cmd {
	return func() tea.Msg {
		c, err := m.workflow.Respond(m.ctx, id, action)
		return invitationAnsweredMsg(c, err)
	}
}

func (m *Model) openSession(playlistID string) tea.Cmd {
	ctx, factory := m.ctx, m.newSession
	return func() tea.Msg {
		s, err := factory(ctx, playlistID)
		if err != nil {
			return sessionStartedMsg(nil, err)
		}
		if err := s.Start(ctx); err != nil {
			return sessionStartedMsg(nil, err)
		}
		return sessionStartedMsg(s, nil)
	}
}

func waitForEvent(ch <-chan collab.Event) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return sessionClosedMsg()
		}
		ev, ok := <-ch
		if !ok {
			return sessionClosedMsg()
		}
		return sessionEventMsg(ev)
	}
}

func waitForSnapshot(ch <-chan playback.Snapshot) tea.Cmd {
	return func() tea.Msg {
		if ch == nil {
			return sessionClosedMsg()
		}
		s, ok := <-ch
		if !ok {
			return sessionClosedMsg()
		}
		return snapshotMsg(s)
	}
}

func run(label string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg(label, fn())
	}
}

func (m *Model) renderPlaylistList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.invites, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n\n%s", m.playlistList.View(), m.renderStatus(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderInvitations() string {
	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n%s\n\n%s", m.inviteList.View(), m.renderStatus(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderStatus() string {
	if m.status == "" {
		return ""
	}
	return styles.help.Render(m.status)
}

func (m *Model) renderSession() string {
	s := m.session
	if s == nil {
		return ""
	}
	title := styles.title.Render(s.Playlist().Name)
	if m.channelDown {
		title += " " + styles.warn.Render("(offline, reconnecting)")
	}

	side := lipgloss.JoinVertical(lipgloss.Left,
		styles.pane.Render("Listening\n"+strings.TrimRight(string(formatter.RosterToText(m.roster, s.Transport().Queue())), "\n")),
		styles.pane.Render("Activity\n"+m.renderActivity()),
	)
	main := lipgloss.JoinHorizontal(lipgloss.Top, m.queueList.View(), side)

	helpKeys := []key.Binding{
		m.keys.enter, m.keys.toggle, m.keys.next, m.keys.previous, m.keys.shuffle, m.keys.repeat,
		m.keys.moveUp, m.keys.moveDown, m.keys.remove, m.keys.back, m.keys.quit,
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s\n\n%s", title, main, m.renderNowPlaying(), m.renderStatus(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderNowPlaying() string {
	snap := m.snapshot
	if !snap.HasTrack {
		return styles.help.Render("nothing loaded")
	}
	line := fmt.Sprintf("%s  %s  %s / %s  vol %d%%  shuffle %s  repeat %s",
		snap.Status,
		styles.current.Render(snap.Track.Label()),
		formatter.FormatDuration(snap.CurrentTime),
		formatter.FormatDuration(snap.Duration),
		int(snap.Volume*100+0.5),
		onOff(snap.Shuffle),
		snap.Repeat,
	)
	if snap.Err != nil {
		line += "\n" + styles.err.Render(snap.Err.Error())
	}
	return line
}

func (m *Model) renderActivity() string {
	records := m.session.Activity()
	if len(records) == 0 {
		return styles.help.Render("no changes yet")
	}
	lines := make([]string, 0, activityLines)
	for _, rec := range records[:min(len(records), activityLines)] {
		lines = append(lines, fmt.Sprintf("%s %s", rec.CreatedAt.Local().Format("15:04"), formatter.DescribeChange(rec)))
	}
	return strings.Join(lines, "\n")
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emberapp/ember/internal/api"
	"github.com/emberapp/ember/internal/tui/client"
	"github.com/emberapp/ember/internal/tui/keys"
	"github.com/emberapp/ember/internal/tui/model"
	"github.com/emberapp/ember/internal/tui/ui"
	"github.com/emberapp/ember/internal/tui/views"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageSearch        = "search"
	pageConflicts     = "conflicts"
	pageHelp          = "help"

	refreshInterval = 5 * time.Second
	coalesceWindow  = 150 * time.Millisecond
	rewatchDelay    = 2 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	daemon   *client.Client
	registry *keys.Registry
	notices  *ui.Notices

	body     *tview.Flex
	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	logo     *ui.Logo
	flashBar *ui.FlashBar
	prompt   *ui.Prompt

	convList  *views.ConversationList
	thread    *views.MessageThread
	details   *views.ConversationInfo
	searchV   *views.SearchView
	conflicts *views.ConflictList
	help      *views.HelpView

	components map[string]ui.Page
	focus      map[string]tview.Primitive

	session string
	typing  chan string

	mu        sync.Mutex
	pending   model.Dirty
	scheduled bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	vm := model.NewViewModel(c)

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		vm:       vm,
		daemon:   c,
		registry: keys.NewRegistry(),
		notices:  ui.NewNotices(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		logo:     ui.NewLogo(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		session:  sessionName,
		typing:   make(chan string, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.convList = views.NewConversationList(theme, vm.GetTyping)
	a.thread = views.NewMessageThread(theme, "")
	a.details = views.NewConversationInfo(theme)
	a.searchV = views.NewSearchView(theme, a.peerName)
	a.conflicts = views.NewConflictList(theme)
	a.help = views.NewHelpView(theme)

	a.components = map[string]ui.Page{
		pageConversations: a.convList,
		pageThread:        a.thread,
		pageDetails:       a.details,
		pageSearch:        a.searchV,
		pageConflicts:     a.conflicts,
		pageHelp:          a.help,
	}
	a.focus = map[string]tview.Primitive{
		pageConversations: a.convList,
		pageThread:        a.thread.Messages(),
		pageDetails:       a.details,
		pageSearch:        a.searchV.Input(),
		pageConflicts:     a.conflicts,
		pageHelp:          a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() {
			if a.pages.Depth() > 1 {
				a.back()
				return
			}
			a.Stop()
		},
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.push(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "::command",
		Handler:     func() { a.activatePrompt(ui.PromptCommand) },
	})

	a.registry.AddView(pageConversations, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Handler: func() { a.activatePrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageConversations, "sort", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Handler: func() { a.notices.Info("sorted by " + a.convList.CycleSort().String()) },
	})
	a.registry.AddView(pageConversations, "conflicts", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Handler: func() { a.showConflicts() },
	})
	a.registry.AddView(pageConversations, "clear", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Handler: func() { a.convList.ClearFilter() },
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageConversations, fmt.Sprintf("jump%d", n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if id := a.convList.ConversationByIndex(n); id != "" {
					a.openConversation(id)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Handler: func() { a.retryLastFailed() },
	})
	a.registry.AddView(pageThread, "sync", &keys.Action{
		Rune: 'y', Key: tcell.KeyRune,
		Handler: func() { a.runCommand(Command{Name: "sync"}) },
	})
	a.registry.AddView(pageThread, "details", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Handler: func() { a.showDetails() },
	})

	a.registry.AddView(pageConflicts, "local", &keys.Action{
		Rune: 'l', Key: tcell.KeyRune,
		Handler: func() { a.resolveSelected("keep_local") },
	})
	a.registry.AddView(pageConflicts, "server", &keys.Action{
		Rune: 'S', Key: tcell.KeyRune,
		Handler: func() { a.resolveSelected("keep_server") },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, _ int) {
		if id := a.convList.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			msg, err := a.vm.Send(a.ctx, text)
			switch {
			case err != nil:
				a.notices.Err(fmt.Errorf("send failed: %w", err))
			case msg.Status == "failed":
				a.notices.Warn("message rejected, press r to retry")
			}
			a.invalidate(model.DirtyMessages | model.DirtyConversations)
		}()
	})
	a.thread.SetOnType(func(text string) {
		select {
		case a.typing <- text:
		default:
		}
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.Search(a.ctx, query)
			if err != nil {
				a.notices.Err(fmt.Errorf("search failed: %w", err))
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})
	a.searchV.Results().SetSelectedFunc(func(_, _ int) {
		if conv, _ := a.searchV.SelectedResult(); conv != "" {
			a.openConversation(conv)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.deactivatePrompt()
		switch mode {
		case ui.PromptFilter:
			a.convList.SetFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.deactivatePrompt)

	a.prompt.SetCommands(commands)

	a.pages.SetOnChange(func(top ui.Page, titles []string) {
		a.crumbs.SetTrail(titles)
		if top != nil {
			a.menu.Update(top.Hints())
		}
	})
}

func (a *App) setupLayout() {
	for name, c := range a.components {
		a.pages.Add(name, c)
	}

	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(a.logo, 20, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.pages.Reset(pageConversations)
	a.app.SetFocus(a.convList)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		focused := a.app.GetFocus()
		current := a.pages.Current()

		if focused == a.thread.Composer() && event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		if current == pageSearch && event.Key() == tcell.KeyTab {
			if focused == a.searchV.Input() {
				a.app.SetFocus(a.searchV.Results())
			} else {
				a.app.SetFocus(a.searchV.Input())
			}
			return nil
		}
		// Let text input widgets handle all other keys normally.
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}
		if event.Key() == tcell.KeyEscape {
			a.back()
			return nil
		}
		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) push(page string) {
	if a.pages.Current() == page {
		return
	}
	a.pages.Push(page)
	a.app.SetFocus(a.focus[page])
}

func (a *App) back() {
	if a.pages.Depth() <= 1 {
		return
	}
	if a.pages.Pop() == pageThread {
		a.thread.Reset()
		go a.vm.Close(a.ctx)
	}
	a.app.SetFocus(a.focus[a.pages.Current()])
}

func (a *App) activatePrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.body.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) deactivatePrompt() {
	a.body.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.focus[a.pages.Current()])
}

func (a *App) peerName(conversationID string) string {
	if c, ok := a.vm.Conversation(conversationID); ok {
		if c.PeerName != "" {
			return c.PeerName
		}
		return c.PeerID
	}
	return conversationID
}

func (a *App) openConversation(id string) {
	go func() {
		if err := a.vm.Open(a.ctx, id); err != nil {
			a.notices.Err(fmt.Errorf("open failed: %w", err))
			return
		}
		conv, ok := a.vm.Conversation(id)
		if !ok {
			conv = api.Conversation{ID: id}
		}
		a.app.QueueUpdateDraw(func() {
			a.thread.SetConversation(conv)
			a.thread.Update(a.vm.GetMessages())
			a.thread.SetTyping(a.vm.GetTyping(id))
			a.pages.PopToRoot()
			a.push(pageThread)
		})
	}()
}

func (a *App) showDetails() {
	conv, ok := a.vm.ActiveConversation()
	if !ok {
		return
	}
	var mine []api.Conflict
	for _, c := range a.vm.GetConflicts() {
		if c.ConversationID == conv.ID {
			mine = append(mine, c)
		}
	}
	a.details.Update(conv, a.vm.GetTyping(conv.ID), mine)
	a.push(pageDetails)
}

func (a *App) showConflicts() {
	go func() {
		if err := a.vm.LoadConflicts(a.ctx); err != nil {
			a.notices.Err(err)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.conflicts.Update(a.vm.GetConflicts())
			a.push(pageConflicts)
		})
	}()
}

func (a *App) resolveSelected(resolution string) {
	id := a.conflicts.Selected()
	if id == "" {
		return
	}
	go func() {
		if err := a.vm.Resolve(a.ctx, id, resolution); err != nil {
			a.notices.Err(fmt.Errorf("resolve failed: %w", err))
			return
		}
		a.notices.Info("conflict on " + id + " resolved")
		a.invalidate(model.DirtyConflicts | model.DirtyMessages | model.DirtyStatus)
	}()
}

func (a *App) retryLastFailed() {
	go func() {
		msg, err := a.vm.RetryLastFailed(a.ctx)
		switch {
		case err != nil:
			a.notices.Err(fmt.Errorf("retry failed: %w", err))
		case msg == nil:
			a.notices.Info("nothing to retry")
		default:
			a.notices.Info("retrying " + msg.ID)
		}
		a.invalidate(model.DirtyMessages)
	}()
}

func (a *App) runCommand(cmd Command) {
	ack := func(what string, r *api.Ack, err error) {
		switch {
		case err != nil:
			a.notices.Err(fmt.Errorf("%s: %w", what, err))
		case !r.OK:
			a.notices.Warn(what + ": " + r.Message)
		default:
			msg := r.Message
			if msg == "" {
				msg = what + " done"
			}
			a.notices.Info(msg)
		}
	}

	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "search":
		a.push(pageSearch)
		if cmd.Args != "" {
			a.searchV.Input().SetText(cmd.Args)
			go func() {
				results, err := a.vm.Search(a.ctx, cmd.Args)
				if err != nil {
					a.notices.Err(err)
					return
				}
				a.app.QueueUpdateDraw(func() { a.searchV.Update(results) })
			}()
		}
	case "chat":
		if conv, ok := a.vm.FindConversation(cmd.Args); ok && cmd.Args != "" {
			a.openConversation(conv.ID)
		} else {
			a.notices.Warn("no conversation matches " + cmd.Args)
		}
	case "sync":
		go func() {
			r, err := a.vm.SyncActive(a.ctx, cmd.Args == "force")
			if errors.Is(err, model.ErrNoConversation) {
				r, err = a.vm.SyncAll(a.ctx)
			}
			ack("sync", r, err)
		}()
	case "sync-all":
		go func() {
			r, err := a.vm.SyncAll(a.ctx)
			ack("sync", r, err)
		}()
	case "conflicts":
		a.showConflicts()
	case "connect":
		go func() {
			r, err := a.vm.Connect(a.ctx)
			ack("connect", r, err)
		}()
	case "disconnect":
		go func() {
			r, err := a.vm.Disconnect(a.ctx)
			ack("disconnect", r, err)
		}()
	case "retry":
		if cmd.Args == "" {
			a.retryLastFailed()
			return
		}
		go func() {
			if _, err := a.vm.Retry(a.ctx, cmd.Args); err != nil {
				a.notices.Err(fmt.Errorf("retry failed: %w", err))
			}
			a.invalidate(model.DirtyMessages)
		}()
	default:
		a.notices.Warn("unknown command: " + cmd.Name)
	}
}

// invalidate schedules a reload of everything d covers. Bursts of events
// inside the coalescing window share one reload.
func (a *App) invalidate(d model.Dirty) {
	a.mu.Lock()
	a.pending |= d
	if a.scheduled {
		a.mu.Unlock()
		return
	}
	a.scheduled = true
	a.mu.Unlock()
	time.AfterFunc(coalesceWindow, a.reload)
}

func (a *App) reload() {
	a.mu.Lock()
	d := a.pending
	a.pending = 0
	a.scheduled = false
	a.mu.Unlock()

	if a.ctx.Err() != nil {
		return
	}
	if d.Has(model.DirtyStatus) {
		if err := a.vm.LoadStatus(a.ctx); err != nil {
			a.notices.Err(fmt.Errorf("daemon unreachable: %w", err))
		}
	}
	if d.Has(model.DirtyConversations) {
		_ = a.vm.LoadConversations(a.ctx)
	}
	if d.Has(model.DirtyMessages) && a.vm.Active() != "" {
		_ = a.vm.LoadMessages(a.ctx)
	}
	if d.Has(model.DirtyConflicts) {
		_ = a.vm.LoadConflicts(a.ctx)
	}
	a.app.QueueUpdateDraw(func() { a.render(d) })
}

func (a *App) render(d model.Dirty) {
	if d.Has(model.DirtyStatus) || d.Has(model.DirtyConflicts) {
		a.renderInfo()
	}
	if d.Has(model.DirtyConversations) || d.Has(model.DirtyTyping) {
		a.convList.Update(a.vm.GetConversations())
	}
	active := a.vm.Active()
	if active != "" && active == a.thread.ConversationID() {
		if d.Has(model.DirtyMessages) {
			a.thread.Update(a.vm.GetMessages())
		}
		if d.Has(model.DirtyTyping) {
			a.thread.SetTyping(a.vm.GetTyping(active))
		}
	}
	if d.Has(model.DirtyConflicts) && a.pages.Current() == pageConflicts {
		a.conflicts.Update(a.vm.GetConflicts())
	}
	a.flashBar.Show(a.notices.Current())
}

func (a *App) renderInfo() {
	st, stats := a.vm.GetStatus()
	data := &ui.SessionData{Session: a.session, Connection: "unknown", Conflicts: len(a.vm.GetConflicts())}
	if st != nil {
		data.UserID = st.UserID
		data.Connection = st.State
		data.Queued = st.QueueDepth
		data.Uptime = time.Duration(st.UptimeMs) * time.Millisecond
	}
	if stats != nil {
		data.Conversations = stats.Conversations
		data.Unconfirmed = stats.Unconfirmed
		data.LastSync = stats.LastSyncAt
		if stats.Conflicted > data.Conflicts {
			data.Conflicts = stats.Conflicted
		}
	}
	a.info.Update(data)
	a.crumbs.SetConnection(data.Connection)
	a.logo.SetState(data.Connection)
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.bootstrap()
	return a.app.Run()
}

func (a *App) bootstrap() {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		a.notices.Err(err)
	}
	_ = a.vm.LoadConversations(a.ctx)
	_ = a.vm.LoadConflicts(a.ctx)
	a.app.QueueUpdateDraw(func() {
		if st, _ := a.vm.GetStatus(); st != nil {
			a.thread.SetSelf(st.UserID)
		}
		a.render(model.DirtyStatus | model.DirtyConversations | model.DirtyConflicts)
		a.menu.Update(a.convList.Hints())
	})

	go a.watchEvents()
	go a.reportTyping()
	go a.watchFlash()
	a.refreshLoop()
}

// watchEvents relays daemon events into reloads, re-subscribing while the
// daemon restarts.
func (a *App) watchEvents() {
	for {
		err := a.daemon.Watch(a.ctx, "", func(evt api.Event) {
			if d := a.vm.Apply(evt); d != 0 {
				a.invalidate(d)
			}
		})
		if a.ctx.Err() != nil {
			return
		}
		a.notices.Warn(fmt.Sprintf("event stream lost: %v", err))
		select {
		case <-time.After(rewatchDelay):
		case <-a.ctx.Done():
			return
		}
	}
}

// reportTyping forwards composer edits to the daemon in order.
func (a *App) reportTyping() {
	for {
		select {
		case text := <-a.typing:
			_ = a.vm.Typing(a.ctx, text)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watchFlash() {
	for {
		select {
		case <-a.notices.Changed():
			a.app.QueueUpdateDraw(func() { a.flashBar.Show(a.notices.Current()) })
		case <-a.ctx.Done():
			return
		}
	}
}

// refreshLoop polls status so uptime ticks and expired flashes clear even
// when no events arrive.
func (a *App) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.invalidate(model.DirtyStatus)
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

package runtime

import (
	"context"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Replies produced by menu navigation.
const (
	ReplyClosed        = "Session closed. Send any message to start again."
	ReplyInvalidOption = "Invalid option. Please try again."
)

type menuCommand int

const (
	cmdNone menuCommand = iota
	cmdMain
	cmdBack
	cmdExit
)

func parseCommand(text string) menuCommand {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "main", "menu", "restart":
		return cmdMain
	case "back", "prev":
		return cmdBack
	case "exit", "bye":
		return cmdExit
	}
	return cmdNone
}

// interpretMenu resolves the user's reply to the menu the session is waiting
// on. Navigation commands win over option keys.
func (t *tick) interpretMenu(ctx context.Context) (stepResult, error) {
	menu, ok := t.flow.Node(t.menuKey)
	if !ok || menu.Type != domain.NodeMenu {
		return stepResult{}, &domain.FlowDefinitionError{FlowID: t.flow.ID, NodeID: t.menuKey, Reason: "menu missing"}
	}

	res := stepResult{nodeID: menu.ID, nodeType: domain.NodeMenu}
	text := t.req.Text()
	ectx := t.evalContext()

	switch parseCommand(text) {
	case cmdMain:
		res.next = t.rootMenu()
		t.menuStack = nil
		return res, nil

	case cmdBack:
		if n := len(t.menuStack); n > 0 {
			res.next = t.menuStack[n-1]
			t.menuStack = t.menuStack[:n-1]
		} else {
			res.next = t.rootMenu()
		}
		return res, nil

	case cmdExit:
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, ReplyClosed))
		res.closed = true
		return res, nil
	}

	key, opt, found := menu.ResolveOption(text)
	if !found {
		t.log.Debug("Invalid menu option", "menu", menu.ID)
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, ReplyInvalidOption+"\n\n"+renderPrompt(menu, ectx)))
		res.next = menu.ID
		res.waiting = true
		return res, nil
	}

	switch {
	case opt.Next != "":
		t.menuStack = append(t.menuStack, menu.ID)
		res.next = opt.Next

	case opt.Action != "":
		reply := t.e.router.Handle(ctx, domain.ActionRequest{
			Action:    opt.Action,
			TenantID:  t.req.TenantID,
			SessionID: t.sess.ID,
			Phone:     t.req.Phone,
			Vars:      domain.CloneVars(t.vars),
			Config:    t.cfg,
		})
		t.log.Debug("Menu action", "menu", menu.ID, "option", key, "action", opt.Action)
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, reply+"\n\n"+renderPrompt(menu, ectx)))
		res.next = menu.ID
		res.waiting = true

	default:
		res.actions = append(res.actions, domain.SendMessage(t.req.Phone, renderPrompt(menu, ectx)))
		res.next = menu.ID
		res.waiting = true
	}
	return res, nil
}

// rootMenu is the flow's root menu, else the bottom of the stack, else the
// current menu.
func (t *tick) rootMenu() string {
	if t.flow.RootMenuID != "" {
		return t.flow.RootMenuID
	}
	if len(t.menuStack) > 0 {
		return t.menuStack[0]
	}
	return t.menuKey
}

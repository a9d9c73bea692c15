package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// ConsolePrompter 在终端打印授权地址，读取用户粘贴的回调地址或授权码
type ConsolePrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewConsolePrompter 创建终端授权提示器
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{In: in, Out: out}
}

// PromptCode 实现 Prompter
func (p *ConsolePrompter) PromptCode(ctx context.Context, authURL, state string) (string, error) {
	fmt.Fprintf(p.Out, "Open the following URL in your browser and approve access:\n\n  %s\n\n", authURL)
	fmt.Fprint(p.Out, "Paste the redirected URL (or just the code) here: ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err == io.EOF && strings.TrimSpace(line) != "" {
			err = nil
		}
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("read authorization code: %w", r.err)
		}
		return ParseAuthorizationInput(r.line, state)
	}
}

// ParseAuthorizationInput 接受完整回调地址或裸授权码
// 回调地址中带 state 时必须与发起授权时一致
func ParseAuthorizationInput(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty authorization code")
	}
	if !strings.Contains(input, "?") && !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("%w: %s %s", ErrAuthorizationDenied, e, q.Get("error_description"))
	}
	if got := q.Get("state"); got != "" && state != "" && got != state {
		return "", ErrStateMismatch
	}
	code := strings.TrimSpace(q.Get("code"))
	if code == "" {
		return "", fmt.Errorf("redirect url has no code parameter")
	}
	return code, nil
}

// CallbackPrompter serve 模式下由 /oauth/callback 送回授权码
type CallbackPrompter struct {
	mu      sync.Mutex
	pending map[string]chan callbackResult
	authURL string
}

type callbackResult struct {
	code string
	err  error
}

// NewCallbackPrompter 创建回调提示器
func NewCallbackPrompter() *CallbackPrompter {
	return &CallbackPrompter{pending: make(map[string]chan callbackResult)}
}

// PromptCode 登记 state 并等待回调
func (p *CallbackPrompter) PromptCode(ctx context.Context, authURL, state string) (string, error) {
	ch := make(chan callbackResult, 1)

	p.mu.Lock()
	p.pending[state] = ch
	p.authURL = authURL
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, state)
		if len(p.pending) == 0 {
			p.authURL = ""
		}
		p.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.code, r.err
	}
}

// PendingAuthURL 当前等待中的授权地址，没有则为空
func (p *CallbackPrompter) PendingAuthURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authURL
}

// Deliver 回调处理器交付授权结果
func (p *CallbackPrompter) Deliver(state, code, errMsg string) error {
	p.mu.Lock()
	ch, ok := p.pending[state]
	if ok {
		delete(p.pending, state)
	}
	p.mu.Unlock()

	if !ok {
		return ErrStateMismatch
	}

	if errMsg != "" {
		ch <- callbackResult{err: fmt.Errorf("%w: %s", ErrAuthorizationDenied, errMsg)}
		return nil
	}
	if strings.TrimSpace(code) == "" {
		ch <- callbackResult{err: fmt.Errorf("callback has no code parameter")}
		return nil
	}
	ch <- callbackResult{code: strings.TrimSpace(code)}
	return nil
}

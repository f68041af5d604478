package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

var ErrUnknownTemplate = errors.New("email: unknown template")

// DefaultTemplate is the name of the built-in login link template.
const DefaultTemplate = "login"

const defaultSubject = "Your sign-in link"

const loginTemplate = `<p>Hi {{if .Recipient.Name}}{{.Recipient.Name}}{{else}}{{.Recipient.Email}}{{end}},</p>
<p>Click the link below to sign in. It expires in {{.Minutes}} minutes.</p>
<p><a href="{{.URL}}">Sign in</a></p>
<p>If you did not ask for this email you can ignore it.</p>
`

type Recipient struct {
	Email string
	Name  string
}

// Link is the sign-in URL handed to a message builder.
type Link struct {
	URL       string
	ExpiresAt time.Time
	// ValidFor is the remaining lifetime at the moment the mail is built.
	ValidFor time.Duration
}

// Minutes rounds ValidFor up to whole minutes.
func (l Link) Minutes() int {
	m := int((l.ValidFor + time.Minute - 1) / time.Minute)
	return max(m, 1)
}

type Message struct {
	To      string
	Subject string
	HTML    string
}

// MessageBuilder turns a recipient and a link into a message.
type MessageBuilder interface {
	Build(ctx context.Context, to Recipient, link Link) (Message, error)
}

// BuilderFunc adapts a plain function to MessageBuilder.
type BuilderFunc func(ctx context.Context, to Recipient, link Link) (Message, error)

func (f BuilderFunc) Build(ctx context.Context, to Recipient, link Link) (Message, error) {
	return f(ctx, to, link)
}

// FromMessage always sends msg. An empty To is filled from the recipient.
func FromMessage(msg Message) MessageBuilder {
	return BuilderFunc(func(_ context.Context, to Recipient, _ Link) (Message, error) {
		out := msg
		if out.To == "" {
			out.To = to.Email
		}
		return out, nil
	})
}

// FromFunc builds the message with a factory.
func FromFunc(f func(to Recipient, link Link) (Message, error)) MessageBuilder {
	return BuilderFunc(func(_ context.Context, to Recipient, link Link) (Message, error) {
		return f(to, link)
	})
}

// FromTemplate renders the named template from t.
func FromTemplate(t *Templates, name string) MessageBuilder {
	return BuilderFunc(func(_ context.Context, to Recipient, link Link) (Message, error) {
		return t.Render(name, to, link)
	})
}

type namedTemplate struct {
	subject string
	body    *template.Template
}

// Templates is a registry of named HTML mail templates. Templates see
// .Recipient, .URL, .ExpiresAt and .Minutes.
type Templates struct {
	mu        sync.RWMutex
	templates map[string]namedTemplate
}

// NewTemplates returns a registry holding the built-in login template, sent
// with subject. An empty subject keeps the built-in one.
func NewTemplates(subject string) *Templates {
	if subject == "" {
		subject = defaultSubject
	}
	t := &Templates{templates: make(map[string]namedTemplate)}
	if err := t.Register(DefaultTemplate, subject, loginTemplate); err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) Register(name, subject, body string) error {
	parsed, err := template.New(name).Parse(body)
	if err != nil {
		return fmt.Errorf("parse template %q: %w", name, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.templates[name] = namedTemplate{subject: subject, body: parsed}
	return nil
}

// LoadFS registers every *.html file in fsys. A file's name without the
// extension becomes the template name.
func (t *Templates) LoadFS(fsys fs.FS, subject string) error {
	files, err := fs.Glob(fsys, "*.html")
	if err != nil {
		return err
	}
	for _, file := range files {
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("read template %s: %w", file, err)
		}
		name := strings.TrimSuffix(path.Base(file), ".html")
		if err := t.Register(name, subject, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Templates) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.templates[name]
	return ok
}

func (t *Templates) Render(name string, to Recipient, link Link) (Message, error) {
	t.mu.RLock()
	nt, ok := t.templates[name]
	t.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("template %q: %w", name, ErrUnknownTemplate)
	}

	data := struct {
		Recipient Recipient
		URL       template.URL
		ExpiresAt time.Time
		Minutes   int
	}{
		Recipient: to,
		URL:       template.URL(link.URL),
		ExpiresAt: link.ExpiresAt,
		Minutes:   link.Minutes(),
	}

	var buf bytes.Buffer
	if err := nt.body.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render template %q: %w", name, err)
	}
	return Message{To: to.Email, Subject: nt.subject, HTML: buf.String()}, nil
}

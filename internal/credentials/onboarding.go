package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"deskmate/internal/llm"
	"golang.org/x/term"
)

// Wizard is the interactive credential setup menu.
type Wizard struct {
	manager *Manager
	in      *bufio.Reader
	out     io.Writer
	// secret reads an API key; on a terminal it disables echo
	secret func() (string, error)
}

// NewWizard wires the wizard to stdin/stdout. Key entry is hidden when
// stdin is a terminal.
func NewWizard(manager *Manager) *Wizard {
	w := NewWizardIO(manager, os.Stdin, os.Stdout)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		w.secret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(w.out)
			return string(b), err
		}
	}
	return w
}

// NewWizardIO builds a wizard over arbitrary streams.
func NewWizardIO(manager *Manager, in io.Reader, out io.Writer) *Wizard {
	w := &Wizard{manager: manager, in: bufio.NewReader(in), out: out}
	w.secret = func() (string, error) { return w.readLine() }
	return w
}

// Onboard runs the first-time flow: pick a vendor, paste a key.
func (w *Wizard) Onboard() (*Credentials, error) {
	creds, err := w.manager.Load()
	if err != nil {
		return nil, err
	}
	w.println()
	w.println("Welcome to deskmate! Let's connect an AI provider.")
	w.println()

	vendor, err := w.chooseVendor(llm.Vendors)
	if err != nil {
		return nil, err
	}
	apiKey, err := w.getAPIKey(vendor)
	if err != nil {
		return nil, err
	}
	creds.SetProvider(string(vendor), apiKey)
	creds.DefaultProvider = string(vendor)
	if err := w.manager.Save(creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	w.println()
	w.println("✓ API key saved to:", w.manager.Path())
	w.println("✓", vendor.Label(), "set as default provider")
	return creds, nil
}

// Run shows the credential management menu until the user exits.
func (w *Wizard) Run() error {
	creds, err := w.manager.Load()
	if err != nil {
		return err
	}
	for {
		w.println()
		w.println("deskmate setup")
		w.println()
		if creds.DefaultProvider != "" {
			w.println("  Default provider:", label(creds.DefaultProvider))
		} else {
			w.println("  Default provider: (not set)")
		}
		w.println("  Providers:")
		for _, v := range llm.Vendors {
			status := "✗"
			if creds.IsConfigured(string(v)) {
				status = "✓"
			} else if w.manager.getenv(v.EnvKey()) != "" {
				status = "✓ (env)"
			}
			w.printf("    %s %s\n", status, v.Label())
		}
		w.println()
		w.println("  1) Add/update provider API key")
		w.println("  2) Change default provider")
		w.println("  3) Remove provider")
		w.println("  4) Exit")
		w.println()

		choice, err := w.promptWithDefault("Choice", "4")
		if err != nil {
			return nil
		}
		switch choice {
		case "1":
			err = w.addProvider(creds)
		case "2":
			err = w.changeDefaultProvider(creds)
		case "3":
			err = w.removeProvider(creds)
		case "4", "exit", "quit", "q":
			return nil
		default:
			err = fmt.Errorf("invalid choice %q", choice)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			w.println("Error:", err)
		}
	}
}

func (w *Wizard) addProvider(creds *Credentials) error {
	vendor, err := w.chooseVendor(llm.Vendors)
	if err != nil {
		return err
	}
	apiKey, err := w.getAPIKey(vendor)
	if err != nil {
		return err
	}
	creds.SetProvider(string(vendor), apiKey)
	if creds.DefaultProvider == "" {
		creds.DefaultProvider = string(vendor)
	}
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ API key saved for", vendor.Label())
	return nil
}

func (w *Wizard) changeDefaultProvider(creds *Credentials) error {
	names := creds.ListProviders()
	if len(names) == 0 {
		return fmt.Errorf("no providers configured, add one first")
	}
	vendors := make([]llm.Vendor, 0, len(names))
	for _, n := range names {
		vendors = append(vendors, llm.Vendor(n))
	}
	vendor, err := w.chooseVendor(vendors)
	if err != nil {
		return err
	}
	creds.DefaultProvider = string(vendor)
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ Default provider set to", vendor.Label())
	return nil
}

func (w *Wizard) removeProvider(creds *Credentials) error {
	names := creds.ListProviders()
	if len(names) == 0 {
		return fmt.Errorf("no providers configured")
	}
	vendors := make([]llm.Vendor, 0, len(names))
	for _, n := range names {
		vendors = append(vendors, llm.Vendor(n))
	}
	vendor, err := w.chooseVendor(vendors)
	if err != nil {
		return err
	}
	confirm, err := w.promptWithDefault(fmt.Sprintf("Really remove %s? [y/n]", vendor.Label()), "n")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToLower(confirm), "y") {
		w.println("Cancelled")
		return nil
	}
	creds.RemoveProvider(string(vendor))
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ Removed", vendor.Label())
	return nil
}

func (w *Wizard) chooseVendor(options []llm.Vendor) (llm.Vendor, error) {
	w.println("Which provider?")
	for i, v := range options {
		w.printf("  %d) %s\n", i+1, v.Label())
	}
	choice, err := w.promptWithDefault("Choice", "1")
	if err != nil {
		return "", err
	}
	if idx, convErr := strconv.Atoi(choice); convErr == nil {
		if idx < 1 || idx > len(options) {
			return "", fmt.Errorf("invalid choice %q", choice)
		}
		return options[idx-1], nil
	}
	v, err := llm.ParseVendor(choice)
	if err != nil {
		return "", err
	}
	for _, o := range options {
		if o == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("invalid choice %q", choice)
}

func (w *Wizard) getAPIKey(vendor llm.Vendor) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		w.printf("Enter your %s API key: ", vendor.Label())
		apiKey, err := w.secret()
		if err != nil {
			return "", err
		}
		apiKey = strings.TrimSpace(apiKey)
		if apiKey != "" {
			return apiKey, nil
		}
		w.println("API key cannot be empty. Please try again.")
	}
	return "", fmt.Errorf("no API key entered")
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) promptWithDefault(msg, defaultValue string) (string, error) {
	w.printf("%s [%s]: ", msg, defaultValue)
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return defaultValue, nil
	}
	return line, nil
}

func (w *Wizard) println(args ...any) { fmt.Fprintln(w.out, args...) }

func (w *Wizard) printf(format string, args ...any) { fmt.Fprintf(w.out, format, args...) }

func label(name string) string {
	if v, err := llm.ParseVendor(name); err == nil {
		return v.Label()
	}
	return name
}

package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stocker/config"
	"github.com/vadiminshakov/stocker/internal/domain"
	"github.com/vadiminshakov/stocker/internal/storage/accounts"
)

// DefaultFile is where the wizard writes its result.
const DefaultFile = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers holds the raw wizard input.
type Answers struct {
	UserID         string
	BaseCurrency   string
	InitialBalance string
	Exchange       string
	Symbol         string
	Interval       string
	StoreBackend   string
	StoreDir       string
	HTTPAddr       string
}

// DefaultAnswers pre-fills the wizard from the built-in defaults.
func DefaultAnswers() Answers {
	d := config.Default()
	return Answers{
		UserID:         d.UserID,
		BaseCurrency:   d.BaseCurrency,
		InitialBalance: d.InitialBalance.String(),
		Exchange:       d.Market.Exchange,
		Symbol:         d.Symbol,
		Interval:       d.Interval.String(),
		StoreBackend:   d.Store.Backend,
		StoreDir:       d.Store.Dir,
		HTTPAddr:       d.HTTP.Addr,
	}
}

// Build turns wizard answers into a validated config.
func (a Answers) Build() (config.Config, error) {
	cfg := config.Default()
	cfg.UserID = strings.TrimSpace(a.UserID)
	cfg.BaseCurrency = domain.NormalizeSymbol(a.BaseCurrency)
	cfg.Symbol = domain.NormalizeSymbol(a.Symbol)
	cfg.Market.Exchange = strings.ToLower(strings.TrimSpace(a.Exchange))
	cfg.Store.Backend = a.StoreBackend
	cfg.Store.Dir = strings.TrimSpace(a.StoreDir)
	if addr := strings.TrimSpace(a.HTTPAddr); addr != "" {
		cfg.HTTP.Addr = addr
	}

	balance, err := decimal.NewFromString(strings.TrimSpace(a.InitialBalance))
	if err != nil {
		return config.Config{}, fmt.Errorf("initial balance must be a valid number")
	}
	cfg.InitialBalance = balance

	if cfg.Interval, err = domain.ParseInterval(a.Interval); err != nil {
		return config.Config{}, err
	}
	if cfg.Symbol == "" {
		return config.Config{}, fmt.Errorf("symbol cannot be empty")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to filename in the layout config.Get reads.
func Save(cfg config.Config, filename string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// RunTUI launches the terminal configuration wizard and returns the written file name.
func RunTUI() (string, error) {
	a := DefaultAnswers()
	var confirm bool

	// step 1: account
	printHeader()
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Paper trading account, live prices and history in one place.\n"))
	fmt.Println(stepStyle.Render("STEP 1: ACCOUNT"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("User ID").
				Description("Accounts are stored per user").
				Value(&a.UserID).
				Validate(notEmpty("user id")),
			huh.NewInput().
				Title("Base Currency").
				Description("Currency of the wallet (e.g. USDT)").
				Value(&a.BaseCurrency).
				Validate(notEmpty("base currency")),
			huh.NewInput().
				Title("Initial Balance").
				Description("Wallet of a newly created account").
				Value(&a.InitialBalance).
				Validate(validateBalance),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// exchange
	printHeader()
	fmt.Println(stepStyle.Render("STEP 2: MARKET DATA"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select Exchange").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
				).
				Value(&a.Exchange),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// chart
	printHeader()
	fmt.Println(stepStyle.Render("STEP 3: CHART"))
	intervalOptions := make([]huh.Option[string], 0, len(domain.Intervals()))
	for _, iv := range domain.Intervals() {
		intervalOptions = append(intervalOptions, huh.NewOption(fmt.Sprintf("%s candles (%s)", iv, iv.Label()), iv.String()))
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbol").
				Description("Exchange symbol without separators (e.g. BTCUSDT)").
				Value(&a.Symbol).
				Validate(validateSymbol),
			huh.NewSelect[string]().
				Title("Default Interval").
				Options(intervalOptions...).
				Value(&a.Interval),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// storage
	printHeader()
	fmt.Println(stepStyle.Render("STEP 4: STORAGE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Account Store").
				Options(
					huh.NewOption("JSON files", accounts.BackendFile),
					huh.NewOption("Write-ahead log", accounts.BackendWAL),
					huh.NewOption("Badger", accounts.BackendBadger),
					huh.NewOption("In memory (lost on exit)", accounts.BackendMemory),
				).
				Value(&a.StoreBackend),
			huh.NewInput().
				Title("Store Directory").
				Description("Empty uses the backend default").
				Value(&a.StoreDir),
			huh.NewInput().
				Title("HTTP Address").
				Value(&a.HTTPAddr),
		),
	).Run()
	if err != nil {
		return "", err
	}

	cfg, err := a.Build()
	if err != nil {
		return "", err
	}

	// confirmation
	printHeader()
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"User: %s\nWallet: %s %s\nExchange: %s\nSymbol: %s\nInterval: %s\nStore: %s\n",
		cfg.UserID, cfg.InitialBalance, cfg.BaseCurrency, cfg.Market.Exchange, cfg.Symbol, cfg.Interval, cfg.Store.Backend,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := Save(cfg, DefaultFile); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", DefaultFile)))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render(
		fmt.Sprintf("API keys are read from %s_API_KEY and %s_API_SECRET", strings.ToUpper(cfg.Market.Exchange), strings.ToUpper(cfg.Market.Exchange))))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return DefaultFile, nil
}

func printHeader() {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("STOCKER CONFIG WIZARD"))
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateBalance(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateSymbol(s string) error {
	s = domain.NormalizeSymbol(s)
	if s == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if strings.ContainsAny(s, "/_- ") {
		return fmt.Errorf("invalid format: use BASEQUOTE without separators (e.g. BTCUSDT)")
	}
	return nil
}

// Package client is the interactive operator console: a readline loop over
// the local store and the sync engine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/sellpoint/sellpoint-client/pkg/config"
	"github.com/sellpoint/sellpoint-client/pkg/models"
	"github.com/sellpoint/sellpoint-client/pkg/spsync"
	"github.com/sellpoint/sellpoint-client/pkg/storage"
	"github.com/sellpoint/sellpoint-client/pkg/syncer"
)

var priceFormat = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// confirmTimeout bounds how long a remote command waits for the operator's
// answer; an unanswered prompt declines so a pull pass is not wedged.
const confirmTimeout = time.Minute

// Console drives the terminal session.
type Console struct {
	rl     *readline.Instance
	engine *syncer.Engine
	store  *storage.Store
	opt    *config.Options

	// A pending confirmation claims the next input line as its answer.
	pending atomic.Bool
	answers chan bool
}

// NewConsole opens the readline instance with command completion.
func NewConsole(engine *syncer.Engine, store *storage.Store, opt *config.Options) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "sellpoint> ",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("pending"),
			readline.PcItem("sync"),
			readline.PcItem("pull"),
			readline.PcItem("diag"),
			readline.PcItem("settings"),
			readline.PcItem("ticket"),
			readline.PcItem("list",
				readline.PcItem("products"),
				readline.PcItem("sales"),
				readline.PcItem("customers"),
				readline.PcItem("categories"),
			),
			readline.PcItem("add-product"),
			readline.PcItem("update-product"),
			readline.PcItem("delete"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl, engine: engine, store: store, opt: opt, answers: make(chan bool, 1)}, nil
}

// Confirm asks the operator to approve a remote command mid-session. The
// question is written through the readline instance so it does not fight
// the prompt loop for stdin; the next input line answers it. It may be
// called from the engine's background goroutines.
func (c *Console) Confirm(prompt string) bool {
	// An answer that raced a previous prompt's timeout may still sit in
	// the buffer; it must not answer this prompt.
	select {
	case <-c.answers:
	default:
	}
	c.pending.Store(true)
	c.rl.Write([]byte("\n" + prompt + " [y/N]: "))
	return c.awaitAnswer(confirmTimeout)
}

func (c *Console) awaitAnswer(timeout time.Duration) bool {
	select {
	case answer := <-c.answers:
		return answer
	case <-time.After(timeout):
		c.pending.Store(false)
		return false
	}
}

// intercept consumes a line as the answer to a pending confirmation.
func (c *Console) intercept(line string) bool {
	if !c.pending.CompareAndSwap(true, false) {
		return false
	}
	select {
	case c.answers <- parseYes(line):
	default:
	}
	return true
}

func parseYes(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Close releases the terminal.
func (c *Console) Close() {
	c.rl.Close()
}

// Run reads commands until exit, EOF, or context cancellation.
func (c *Console) Run(ctx context.Context) error {
	fmt.Println("SellPoint console. Type 'help' for commands.")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if c.intercept(line) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help":
			c.printHelp()
		case "status":
			c.printStatus(ctx)
		case "pending":
			c.printPending(ctx)
		case "sync":
			if err := c.engine.ProcessQueue(ctx); err != nil {
				fmt.Println("Sync failed:", err)
			} else {
				c.printStatus(ctx)
			}
		case "pull":
			if err := c.engine.Pull(ctx); err != nil {
				fmt.Println("Pull failed:", err)
			} else {
				fmt.Println("Pull complete.")
			}
		case "diag":
			c.printDiagnostics(ctx)
		case "settings":
			c.printSettings(ctx)
		case "ticket":
			c.createTicket(ctx)
		case "list":
			if len(fields) < 2 {
				fmt.Println("Usage: list <table>")
				continue
			}
			c.listRecords(ctx, fields[1])
		case "add-product":
			c.addProduct(ctx)
		case "update-product":
			c.updateProduct(ctx)
		case "delete":
			if len(fields) < 3 {
				fmt.Println("Usage: delete <table> <id>")
				continue
			}
			c.deleteRecord(ctx, fields[1], fields[2])
		case "exit", "quit":
			return nil
		default:
			fmt.Printf("Unknown command %q. Type 'help' for commands.\n", fields[0])
		}
	}
}

func (c *Console) printHelp() {
	fmt.Println(`Commands:
  status            connectivity and queue summary
  pending           list queued operations awaiting delivery
  sync              push queued operations now
  pull              fetch remote operations now
  diag              print the diagnostic snapshot
  settings          print merged configuration values
  ticket            open a support ticket
  list <table>      list records (products, sales, customers, categories)
  add-product       create a product
  update-product    change a product's name or price
  delete <t> <id>   delete a record
  exit              leave the console`)
}

func (c *Console) printStatus(ctx context.Context) {
	st, err := c.engine.Status(ctx)
	if err != nil {
		fmt.Println("Status unavailable:", err)
		return
	}
	online := "offline"
	if st.Online {
		online = "online"
	}
	realtime := "disconnected"
	if st.RealtimeConnected {
		realtime = "connected"
	}
	lastSync := "never"
	if !st.LastSyncAt.IsZero() {
		lastSync = st.LastSyncAt.Local().Format("2006-01-02 15:04:05")
	}
	fmt.Printf("Client %s (%s)\n", c.opt.ClientID, online)
	fmt.Printf("  realtime:  %s\n", realtime)
	fmt.Printf("  pending:   %d operation(s)\n", st.PendingOperations)
	fmt.Printf("  dead:      %d operation(s)\n", st.DeadOperations)
	fmt.Printf("  last sync: %s\n", lastSync)
}

func (c *Console) printPending(ctx context.Context) {
	ops, err := c.store.Keeper().PendingSyncOperations(ctx)
	if err != nil {
		fmt.Println("Failed to read queue:", err)
		return
	}
	if len(ops) == 0 {
		fmt.Println("Queue is empty.")
		return
	}
	for _, op := range ops {
		fmt.Printf("  %s  %-6s %-10s id=%s attempts=%d\n",
			op.CreatedAt.Local().Format("15:04:05"), op.Kind, op.Table, op.Payload["id"], op.Attempts)
	}
}

func (c *Console) printDiagnostics(ctx context.Context) {
	diag := c.engine.Diagnostics(ctx)
	out, err := json.MarshalIndent(diag, "", "  ")
	if err != nil {
		fmt.Println("Failed to encode diagnostics:", err)
		return
	}
	fmt.Println(string(out))
}

func (c *Console) printSettings(ctx context.Context) {
	settings, err := c.store.Keeper().Settings(ctx)
	if err != nil {
		fmt.Println("Failed to read settings:", err)
		return
	}
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s = %s\n", k, settings[k])
	}
}

func (c *Console) createTicket(ctx context.Context) {
	c.rl.SetPrompt("Subject: ")
	subject, _ := c.rl.Readline()
	c.rl.SetPrompt("Describe the problem: ")
	body, _ := c.rl.Readline()
	c.rl.SetPrompt("sellpoint> ")

	if strings.TrimSpace(subject) == "" {
		fmt.Println("Subject cannot be empty!")
		return
	}

	id, queued, err := c.engine.CreateTicket(ctx, spsync.Ticket{Subject: subject, Body: body})
	switch {
	case err != nil:
		fmt.Println("Failed to create ticket:", err)
	case queued:
		fmt.Println("Service unreachable; ticket stored and will be sent when back online.")
	default:
		fmt.Printf("Ticket %s created.\n", id)
	}
}

func (c *Console) listRecords(ctx context.Context, table string) {
	records, err := c.store.All(ctx, table)
	if err != nil {
		fmt.Println("Failed to list records:", err)
		return
	}
	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}
	for _, rec := range records {
		parts := make([]string, 0, len(rec))
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if k != "id" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, rec[k]))
		}
		fmt.Printf("  %s  %s\n", rec["id"], strings.Join(parts, " "))
	}
}

func (c *Console) addProduct(ctx context.Context) {
	c.rl.SetPrompt("Product name: ")
	name, _ := c.rl.Readline()

	var price string
	for {
		c.rl.SetPrompt("Price: ")
		price, _ = c.rl.Readline()
		if !priceFormat.MatchString(price) {
			fmt.Println("Price must be a number like 4 or 4.50!")
		} else {
			break
		}
	}

	c.rl.SetPrompt("Category id (blank for default): ")
	category, _ := c.rl.Readline()
	c.rl.SetPrompt("sellpoint> ")
	if strings.TrimSpace(category) == "" {
		category = "default"
	}

	p := models.Product{ID: uuid.NewString(), Name: name, Price: price, CategoryID: category}
	if err := c.store.Create(ctx, models.TableProducts, models.Record(&p)); err != nil {
		fmt.Println("Failed to create product:", err)
		return
	}
	fmt.Printf("Product %s created and queued for sync.\n", p.ID)
}

func (c *Console) updateProduct(ctx context.Context) {
	c.rl.SetPrompt("Product id: ")
	id, _ := c.rl.Readline()
	c.rl.SetPrompt("sellpoint> ")

	current, err := c.store.Get(ctx, models.TableProducts, strings.TrimSpace(id))
	if err != nil {
		fmt.Println("Product not found!")
		return
	}

	c.rl.SetPrompt(fmt.Sprintf("Name [%s]: ", current["name"]))
	name, _ := c.rl.Readline()
	c.rl.SetPrompt(fmt.Sprintf("Price [%s]: ", current["price"]))
	price, _ := c.rl.Readline()
	c.rl.SetPrompt("sellpoint> ")

	update := map[string]string{"id": strings.TrimSpace(id)}
	if strings.TrimSpace(name) != "" {
		update["name"] = name
	}
	if strings.TrimSpace(price) != "" {
		if !priceFormat.MatchString(price) {
			fmt.Println("Price must be a number like 4 or 4.50!")
			return
		}
		update["price"] = price
	}
	if len(update) == 1 {
		fmt.Println("Nothing to change.")
		return
	}

	if err := c.store.Update(ctx, models.TableProducts, update); err != nil {
		fmt.Println("Failed to update product:", err)
		return
	}
	fmt.Println("Product updated and queued for sync.")
}

func (c *Console) deleteRecord(ctx context.Context, table, id string) {
	if err := c.store.Delete(ctx, table, id); err != nil {
		fmt.Println("Failed to delete record:", err)
		return
	}
	fmt.Println("Record deleted and queued for sync.")
}

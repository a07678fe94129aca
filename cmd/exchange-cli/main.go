// Command exchange-cli is an interactive client for a running exchanged
// instance: a REPL menu to place orders, cancel them, and inspect books,
// balances, and positions, grounded on the teacher's sign-order tool's
// step-by-step terminal walkthrough but driven against the live REST API
// instead of printing a one-shot signed payload.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

func main() {
	apiAddr := pflag.StringP("api", "a", "http://localhost:8080", "base URL of the exchange API")
	account := pflag.StringP("account", "u", "", "account id to act as")
	pflag.Parse()

	if *account == "" {
		fmt.Fprintln(os.Stderr, "exchange-cli: -account is required")
		os.Exit(1)
	}

	c := &client{base: strings.TrimRight(*apiAddr, "/"), account: *account, http: &http.Client{}}
	repl(c)
}

type client struct {
	base    string
	account string
	http    *http.Client
}

func (c *client) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *client) post(path string, body interface{}) ([]byte, int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return out, resp.StatusCode, err
}

func repl(c *client) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("exchange-cli: account %s, api %s\n", c.account, c.base)

	for {
		printMenu()
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			os.Exit(0)
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			placeOrder(c, scanner, "buy")
		case "2":
			placeOrder(c, scanner, "sell")
		case "3":
			cancelOrder(c, scanner)
		case "4":
			viewBook(c, scanner)
		case "5":
			viewAccount(c)
		case "6":
			deposit(c, scanner)
		case "7":
			withdraw(c, scanner)
		case "8", "exit", "quit":
			os.Exit(0)
		default:
			fmt.Println("unrecognized choice")
		}
	}
}

func printMenu() {
	fmt.Println()
	fmt.Println("1) place buy order   2) place sell order   3) cancel order")
	fmt.Println("4) view order book   5) view account        6) deposit")
	fmt.Println("7) withdraw          8) exit")
}

func prompt(scanner *bufio.Scanner, label string) string {
	fmt.Printf("%s: ", label)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

func placeOrder(c *client, scanner *bufio.Scanner, side string) {
	symbol := prompt(scanner, "instrument")
	typ := prompt(scanner, "type (limit/market)")
	var price string
	if typ == "limit" {
		price = prompt(scanner, "price")
	}
	quantity := prompt(scanner, "quantity")

	req := map[string]string{
		"account": c.account, "instrument": symbol, "side": side, "type": typ,
		"price": price, "quantity": quantity,
	}
	out, status, err := c.post("/api/v1/orders", req)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("status %d: %s\n", status, out)
}

func cancelOrder(c *client, scanner *bufio.Scanner) {
	orderID := prompt(scanner, "order id")
	out, status, err := c.post("/api/v1/orders/"+orderID+"/cancel", map[string]string{"account": c.account})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("status %d: %s\n", status, out)
}

func viewBook(c *client, scanner *bufio.Scanner) {
	symbol := prompt(scanner, "instrument")
	out, err := c.get("/api/v1/instruments/" + symbol + "/orderbook")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func viewAccount(c *client) {
	out, err := c.get("/api/v1/accounts/" + c.account)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func deposit(c *client, scanner *bufio.Scanner) {
	asset := prompt(scanner, "asset")
	amount := prompt(scanner, "amount")
	out, status, err := c.post("/api/v1/deposits", map[string]string{"account": c.account, "asset": asset, "amount": amount})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("status %d: %s\n", status, out)
}

func withdraw(c *client, scanner *bufio.Scanner) {
	asset := prompt(scanner, "asset")
	amount := prompt(scanner, "amount")
	out, status, err := c.post("/api/v1/withdrawals", map[string]string{"account": c.account, "asset": asset, "amount": amount})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("status %d: %s\n", status, out)
}

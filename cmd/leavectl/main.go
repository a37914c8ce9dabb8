// Command leavectl runs leave engine operations against the configured
// database without going through the HTTP server: grant previews and runs,
// CSV import/export, balance reports and policy maintenance.
package main

func main() {
	Execute()
}

// Command catalog-crawler walks the music catalog and writes one snapshot per
// browse category to the configured sinks.
package main

import "github.com/JakeFAU/catalog-crawler/cmd"

func main() {
	cmd.Execute()
}

package console

import (
	"context"
	"errors"
	"fmt"

	"github.com/MannyJMusic/dfl-desktop/vast"
)

func (c *Console) handleInstances(ctx context.Context) {
	for {
		fmt.Fprintln(c.out, "\n=== Instance Management ===")
		choice := c.promptMenu("Select an option", []menuItem{
			{"1", "List instances"},
			{"2", "Execute command on instance"},
			{"3", "Show instance logs (single fetch)"},
			{"4", "Monitor instance logs (stream)"},
			{"5", "Back"},
		})
		switch choice {
		case "1":
			c.listInstances(ctx)
		case "2":
			c.executeOnInstance(ctx)
		case "3":
			c.fetchInstanceLogs(ctx)
		case "4":
			c.monitorInstanceLogs(ctx)
		case "5", "":
			return
		}
	}
}

func (c *Console) listInstances(ctx context.Context) {
	fmt.Fprintln(c.out, "\nFetching instances...")
	instances, err := c.client.ShowInstances(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Failed to fetch instances: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	if len(instances) == 0 {
		fmt.Fprintln(c.out, "No instances found.")
		c.waitForEnter()
		return
	}
	for _, inst := range instances {
		for _, line := range formatInstanceSummary(inst) {
			fmt.Fprintln(c.out, line)
		}
		fmt.Fprintln(c.out)
	}
	c.waitForEnter()
}

func (c *Console) executeOnInstance(ctx context.Context) {
	instanceID := c.promptText("Instance ID", "")
	command := c.promptText("Command to execute (bash snippet)", "")
	if instanceID == "" || command == "" {
		fmt.Fprintln(c.out, "Instance ID and command are required.")
		c.waitForEnter()
		return
	}
	output, err := c.client.ExecuteOnInstance(ctx, instanceID, command)
	if err != nil {
		fmt.Fprintf(c.out, "\nCommand failed: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	fmt.Fprintln(c.out, "\nCommand output:")
	fmt.Fprintln(c.out, output)
	c.waitForEnter()
}

func (c *Console) fetchInstanceLogs(ctx context.Context) {
	instanceID := c.promptText("Instance ID", "")
	if instanceID == "" {
		return
	}
	logs, err := c.client.FetchLogs(ctx, instanceID)
	if err != nil {
		fmt.Fprintf(c.out, "\nFailed to fetch logs: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	fmt.Fprintln(c.out, "\nInstance logs:")
	fmt.Fprintln(c.out, logs)
	c.waitForEnter()
}

// monitorInstanceLogs tails an instance's logs until the stream ends or the
// user interrupts. The provisioning marker is reported but does not stop
// the stream.
func (c *Console) monitorInstanceLogs(ctx context.Context) {
	instanceID := c.promptText("Instance ID", "")
	if instanceID == "" {
		return
	}
	fmt.Fprintln(c.out, "Streaming logs. Press Ctrl+C to stop.")

	sess, err := c.client.Stream(ctx, vast.Command("logs", instanceID, "--follow"))
	if err != nil {
		fmt.Fprintf(c.out, "\nFailed to start log stream: %s\n", errorDetail(err))
		c.waitForEnter()
		return
	}
	defer sess.Close()

	for sess.Next() {
		fmt.Fprintln(c.out, sess.Text())
	}
	if err := sess.Close(); err != nil {
		fmt.Fprintf(c.out, "\nStreaming ended with error: %s\n", errorDetail(err))
	}

	if sess.ProvisioningComplete() {
		fmt.Fprintln(c.out, "✅ DeepFaceLab provisioning completed successfully.")
	} else {
		fmt.Fprintln(c.out, "⚠️ Provisioning completion line not detected; review logs above.")
	}
	c.waitForEnter()
}

// errorDetail prefers the command's stderr over the wrapper message.
func errorDetail(err error) string {
	var cmdErr *vast.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
		return cmdErr.Stderr
	}
	return err.Error()
}

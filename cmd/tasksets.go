package cmd

import "github.com/swanling/swanling"

// websiteTaskSet builds the reference "WebsiteUser" task set: one GET task
// per path, each registered as a closure capturing its own path string, the
// way the engine's design notes describe adapting a borrowed-capture
// closure into a small bound value in a language without cheap closures.
// Every simulated user waits 5-15 seconds between tasks.
func websiteTaskSet() *swanling.TaskSet {
	ts := swanling.NewTaskSet("WebsiteUser").SetWait(5000, 15000)

	for _, path := range []string{"/", "/about", "/our-team"} {
		ts.RegisterTask(swanling.NewTask(path, func(u *swanling.User) error {
			resp, err := u.Get(path, path)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		}))
	}

	return ts
}

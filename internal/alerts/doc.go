// Package alerts evaluates threshold rules against collection reports and
// delivers fire/resolve notifications to Slack, Teams or generic HTTP
// webhooks.
package alerts

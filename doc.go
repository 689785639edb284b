// Package ken provides the executive-assistant runtime: a multi-tenant,
// multi-channel conversational agent that manages reminders, files, tables,
// a knowledge base, and scheduled flows on behalf of each workspace it is
// bound to.
//
// # Quick Start
//
// Validate a configuration file:
//
//	ken validate --config config.yaml
//
// Start the runtime:
//
//	ken serve --config config.yaml
//
// # Architecture
//
// Every inbound message flows through the same seam regardless of which
// channel (HTTP, Telegram, Discord) it arrived on:
//
//	Channel -> Dispatcher -> Identity resolver -> Reasoning loop -> Tools
//
// The reasoning loop wraps each model call and tool dispatch in a fixed
// middleware pipeline (memory/instinct context injection, context editing
// and summarization, call limits, retries, loop breaking, and post-turn
// learning), and persists a checkpoint of its state after every turn so a
// conversation can resume across process restarts.
//
// A background scheduler polls for due reminders and flow runs
// independently of any inbound message, delivering both back through the
// same channel adapters a user's messages arrived on.
package ken

// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file. Every optional field has a
// default (see Default), so a minimal file only needs a database path and a
// JWT secret.
//
// # Configuration File
//
// The relay-gateway command looks in, in order:
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relay/gateway.yaml
//  3. ~/.config/relay/gateway.yaml
//
// A .env file in the same directory as the config (or in the working
// directory) is loaded before the file is read. Variables that are already
// set are not overridden.
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RELAY_SECRET}"
//
// After the file is parsed, RELAY_* variables override individual fields:
//
//	RELAY_HTTP_ADDR, RELAY_DB_DRIVER, RELAY_DB_PATH, RELAY_MONGO_URI,
//	RELAY_MONGO_DATABASE, RELAY_CACHE_DRIVER, RELAY_REDIS_URL,
//	RELAY_CACHE_MAX_ENTRIES, RELAY_USER_LIST_TTL, RELAY_CONVERSATION_TTL,
//	RELAY_JWT_SECRET, RELAY_TOKEN_TTL, RELAY_COOKIE_SECURE,
//	RELAY_REQUIRE_TOKEN, RELAY_ALLOWED_ORIGINS, RELAY_UPLOADS_DIR,
//	RELAY_UPLOADS_BASE_URL, RELAY_LOG_LEVEL, RELAY_LOG_FORMAT
//
// # Example
//
//	server:
//	  http_addr: "localhost:8080"
//
//	database:
//	  driver: "sqlite"          # sqlite, mongo, memory
//	  path: "~/.local/share/relay/relay.db"
//
//	cache:
//	  driver: "redis"           # redis, memory
//	  redis_url: "redis://localhost:6379/0"
//	  user_list_ttl: "300s"
//	  conversation_ttl: "120s"
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//	  token_ttl: "8h"
//
//	realtime:
//	  require_token: false
//	  allowed_origins: ["http://localhost:5173"]
//
//	messages:
//	  delete_window: "1h"
//	  max_text_length: 8000
//	  max_image_bytes: 5242880
//
//	uploads:
//	  dir: "uploads"
//	  base_url: "/uploads"
//
//	ratelimit:
//	  requests_per_second: 20
//	  burst: 40
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
//
// Duration values use time.ParseDuration syntax.
package config

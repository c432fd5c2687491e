package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Marketplace Support Backend",
    "description": "Visitor chat with AI and live agents, customer/vendor conversations and admin dispute resolution",
    "version": "1.0"
  },
  "basePath": "/",
  "tags": [
    {"name": "chat", "description": "Visitor chat sessions"},
    {"name": "admin", "description": "Agent console, requires X-Admin-Key"},
    {"name": "conversations", "description": "Customer and vendor messaging"},
    {"name": "disputes", "description": "Order disputes and refund splits"}
  ],
  "paths": {}
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}

// Package docs swagger 文档（swag init 生成格式）
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["系统"],
                "summary": "健康检查",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/notifications/remind": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["通知"],
                "summary": "发送提醒邮件（异步）",
                "parameters": [
                    {"description": "提醒内容", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.remindRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/outbox": {
            "get": {
                "produces": ["application/json"],
                "tags": ["通知"],
                "summary": "查询 outbox 消息",
                "parameters": [
                    {"enum": ["PENDING", "SENT", "FAILED"], "type": "string", "description": "状态", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/outbox/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["通知"],
                "summary": "查询 outbox 消息详情",
                "parameters": [
                    {"type": "string", "description": "消息ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/pokes": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["戳一戳"],
                "summary": "戳一戳",
                "parameters": [
                    {"description": "戳一戳", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.PokeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/pokes/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["戳一戳"],
                "summary": "戳一戳限额查询",
                "parameters": [
                    {"type": "string", "description": "发起人", "name": "sender_id", "in": "query", "required": true},
                    {"type": "string", "description": "接收人", "name": "recipient_id", "in": "query", "required": true},
                    {"type": "string", "description": "活动", "name": "event_id", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/admin/breakers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["运维"],
                "summary": "熔断器状态",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/admin/breakers/{provider}/reset": {
            "post": {
                "produces": ["application/json"],
                "tags": ["运维"],
                "summary": "重置熔断器",
                "parameters": [
                    {"type": "string", "description": "服务商名称", "name": "provider", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/admin/outbox/sweep": {
            "post": {
                "produces": ["application/json"],
                "tags": ["运维"],
                "summary": "触发补偿扫描",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        }
    },
    "definitions": {
        "handler.remindRequest": {
            "type": "object",
            "required": ["body", "correlation_id", "recipients", "subject"],
            "properties": {
                "body": {"type": "string"},
                "correlation_id": {"type": "string", "maxLength": 64},
                "recipients": {"type": "array", "minItems": 1, "items": {"type": "string"}},
                "subject": {"type": "string", "maxLength": 512}
            }
        },
        "service.PokeRequest": {
            "type": "object",
            "required": ["event_id", "recipient_id", "sender_id"],
            "properties": {
                "event_id": {"type": "string"},
                "recipient_id": {"type": "string"},
                "sender_id": {"type": "string"}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Gatherly Notification API",
	Description:      "可靠通知投递：outbox、重试、分块、熔断与主备切换，以及戳一戳限流。",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}

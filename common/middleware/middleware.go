// Package middleware содержит net/http middleware, общие для всех маршрутов.
package middleware

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/netsync/internal/session"
)

const identityKey = "identity"

// jwtMiddleware проверяет Bearer-токен. Без настроенного JWT API открыт.
func (s *Server) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tokens == nil {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" {
			abort(c, http.StatusUnauthorized, "Неверный формат токена")
			return
		}
		id, err := s.tokens.Validate(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// adminMiddleware пропускает только администраторов. Идёт после jwtMiddleware.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.tokens == nil {
			c.Next()
			return
		}
		v, ok := c.Get(identityKey)
		if !ok {
			abort(c, http.StatusUnauthorized, "Отсутствует информация о пользователе")
			return
		}
		if id, _ := v.(session.Identity); !id.IsAdmin {
			abort(c, http.StatusForbidden, "Недостаточно прав доступа")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Message: msg})
}

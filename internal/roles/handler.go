package roles

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/store"
)

type changeGroupRequest struct {
	Group string `json:"group" form:"group" binding:"required"`
}

// GroupsHandler は GET /api/members/:id/groups のハンドラーです。変更できるグループの一覧を返します。
func (r *Resolver) GroupsHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	id, ok := memberIDParam(c)
	if !ok {
		return
	}

	member, err := r.members.FindByID(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		err = &auth.NotFoundError{Key: MsgMemberDoesntExist}
	}
	if err != nil {
		r.auth.RespondError(c, rc, err)
		return
	}

	groups := r.CanChangeGroup(rc.User, id, member.Account)
	if groups == nil {
		groups = []store.Account{}
	}
	c.JSON(http.StatusOK, gin.H{
		"memberId": id,
		"account":  member.Account,
		"groups":   groups,
	})
}

// ChangeGroupHandler は PUT /api/members/:id/group のハンドラーです。
func (r *Resolver) ChangeGroupHandler(c *gin.Context) {
	rc := auth.FromContext(c)
	id, ok := memberIDParam(c)
	if !ok {
		return
	}

	var req changeGroupRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "group を指定してください",
		})
		return
	}

	group, err := r.ChangeMemberGroup(c.Request.Context(), rc, id, store.Account(req.Group), "")
	if err != nil {
		r.auth.RespondError(c, rc, err)
		return
	}

	c.Header(auth.CSRFHeader, r.auth.CurrentUser(rc).CSRFToken)
	c.JSON(http.StatusOK, gin.H{
		"memberId": id,
		"account":  group,
	})
}

func memberIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "メンバーIDが不正です",
		})
		return 0, false
	}
	return id, true
}

package agent

import "testing"

func TestParseOnline(t *testing.T) {
	body := "alice 200.1.1.1\n\nbob 10.0.0.2 extra\nmalformed\n  carol   172.16.0.9  \n"
	users := ParseOnline(body)
	want := []OnlineUser{
		{"alice", "200.1.1.1"},
		{"bob", "10.0.0.2"},
		{"carol", "172.16.0.9"},
	}
	if len(users) != len(want) {
		t.Fatalf("got %d users, want %d: %+v", len(users), len(want), users)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Errorf("users[%d] = %+v, want %+v", i, users[i], want[i])
		}
	}
}

func TestParseOnline_StructuredReply(t *testing.T) {
	body := `{"success":true,"message":"Comando executado com sucesso","data":"alice 1.2.3.4\n"}`
	users := ParseOnline(body)
	if len(users) != 1 || users[0].Login != "alice" || users[0].IP != "1.2.3.4" {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestParseResources(t *testing.T) {
	r := ParseResources("12.5\n40.0\n73%\n")
	if r.CPU != 12.5 || r.Memory != 40 || r.Disk != 73 {
		t.Errorf("unexpected resources %+v", r)
	}

	partial := ParseResources("3,5\nnot-a-number")
	if partial.CPU != 3.5 || partial.Memory != 0 || partial.Disk != 0 {
		t.Errorf("unexpected partial resources %+v", partial)
	}
}

func TestParseOnline_EmptyStructuredSuccess(t *testing.T) {
	body := `{"success":true,"message":"Comando executado com sucesso"}`
	if users := ParseOnline(body); len(users) != 0 {
		t.Fatalf("expected no users, got %+v", users)
	}
}

func TestUnwrap(t *testing.T) {
	if got, ok := Unwrap("plain text"); got != "plain text" || !ok {
		t.Errorf("Unwrap plain = %q, %v", got, ok)
	}
	if got, ok := Unwrap(`{"success":false,"message":"erro ao executar comando"}`); got != "erro ao executar comando" || ok {
		t.Errorf("Unwrap failure = %q, %v", got, ok)
	}
	if got, ok := Unwrap(`{"success":true,"message":"Comando executado com sucesso"}`); got != "" || !ok {
		t.Errorf("Unwrap empty success = %q, %v", got, ok)
	}
	if got, ok := Unwrap(`{"other":1}`); got != `{"other":1}` || !ok {
		t.Errorf("Unwrap unrelated JSON = %q, %v", got, ok)
	}
}

package dashboard

import "net/http"

func (s *Server) serveFrontend(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(frontendHTML))
}

const frontendHTML = `<!DOCTYPE html>
<html lang="en"><head>
<meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>XRPL Tracker</title>
<style>
:root{--bg:#08090d;--sf:#0f1118;--sf2:#161923;--bd:#252a3a;--tx:#c8cdd8;--tx2:#8891a5;--tx3:#5a6278;--ac:#3b82f6;--gn:#10b981;--rd:#ef4444;--or:#f59e0b}
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:ui-monospace,monospace;background:var(--bg);color:var(--tx);min-height:100vh}
.app{max-width:1200px;margin:0 auto;padding:20px 24px}
.hdr{display:flex;justify-content:space-between;align-items:center;padding:16px 0;border-bottom:1px solid var(--bd);margin-bottom:24px}
.hdr h1{font-size:20px;font-weight:700;color:var(--ac)}
.live{font-size:10px;padding:3px 10px;border-radius:20px;border:1px solid var(--bd);letter-spacing:1.5px}
.live.on{color:var(--gn);border-color:rgba(16,185,129,.3)}
.live.off{color:var(--rd);border-color:rgba(239,68,68,.3)}
.sts{display:grid;grid-template-columns:repeat(auto-fit,minmax(130px,1fr));gap:12px;margin-bottom:24px}
.st{background:var(--sf);border:1px solid var(--bd);border-radius:10px;padding:15px 16px}
.st .v{font-size:24px;font-weight:700;color:var(--ac)}
.st .l{font-size:9px;color:var(--tx3);text-transform:uppercase;letter-spacing:.8px;margin-top:5px}
.pn{background:var(--sf);border:1px solid var(--bd);border-radius:12px;margin-bottom:18px;overflow:hidden}
.pn h2{font-size:13px;padding:13px 18px;border-bottom:1px solid var(--bd);background:var(--sf2)}
table{width:100%;border-collapse:collapse}
th{text-align:left;font-size:9px;color:var(--tx3);text-transform:uppercase;letter-spacing:.8px;padding:10px 14px;border-bottom:1px solid var(--bd)}
td{padding:10px 14px;border-bottom:1px solid rgba(37,42,58,.4);font-size:12px}
.hot{color:var(--or)}
.addr{color:var(--tx2);font-size:11px}
</style></head><body>
<div class="app">
<div class="hdr"><h1>XRPL Tracker</h1><span id="live" class="live off">OFFLINE</span></div>
<div class="sts" id="stats"></div>
<div class="pn"><h2>Tokens</h2><table><thead><tr>
<th>Token</th><th>Status</th><th>Trust Lines</th><th>Trades</th><th>Holders</th><th>Price</th><th>Max</th>
</tr></thead><tbody id="tokens"></tbody></table></div>
<div class="pn"><h2>Alpha Wallets</h2><table><thead><tr>
<th>Wallet</th><th>Score</th><th>Last Activity</th>
</tr></thead><tbody id="alpha"></tbody></table></div>
</div>
<script>
function stat(v,l){return '<div class="st"><div class="v">'+v+'</div><div class="l">'+l+'</div></div>'}
function esc(s){return String(s).replace(/[&<>]/g,c=>({'&':'&amp;','<':'&lt;','>':'&gt;'}[c]))}
function renderStats(d){
  const el=document.getElementById('live');
  el.className='live '+(d.connected?'on':'off');
  el.textContent=d.connected?'LIVE':'OFFLINE';
  document.getElementById('stats').innerHTML=
    stat(d.live.total_tokens,'Tokens')+stat(d.live.hot_tokens,'Hot')+
    stat(d.live.expired_tokens,'Expired')+stat(d.db.trust_lines,'Trust Lines')+
    stat(d.db.trades,'Trades')+stat(d.db.wallets,'Wallets')+
    stat(d.live.trust_lines_today,'Lines Today')+stat(d.live.trades_today,'Trades Today');
}
async function refresh(){
  const tokens=await (await fetch('/api/tokens')).json();
  document.getElementById('tokens').innerHTML=(tokens||[]).map(t=>
    '<tr><td class="'+(t.hot?'hot':'')+'">'+esc(t.token.currency)+':'+esc(t.token.issuer.slice(0,8))+'…</td>'+
    '<td>'+esc(t.status)+'</td><td>'+t.trust_line_count+'</td><td>'+t.trade_count+'</td>'+
    '<td>'+t.holder_count+'</td><td>'+esc(t.current_price)+'</td><td>'+esc(t.max_price)+'</td></tr>').join('');
  const alpha=await (await fetch('/api/alpha')).json();
  document.getElementById('alpha').innerHTML=(alpha||[]).map(w=>
    '<tr><td class="addr">'+esc(w.address)+'</td><td>'+w.alpha_score.toFixed(2)+'</td>'+
    '<td>'+esc(w.last_activity)+'</td></tr>').join('');
}
const ws=new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/ws');
ws.onmessage=e=>renderStats(JSON.parse(e.data));
fetch('/api/stats').then(r=>r.json()).then(renderStats);
refresh();setInterval(refresh,10000);
</script></body></html>`
